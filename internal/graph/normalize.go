package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxgraph/engine/internal/domain"
)

// executionStateFields are stripped from every node: they describe the last
// run, not the workflow, and are never persisted on the canonical graph.
var executionStateFields = []string{
	"executionStatus", "executionError", "lastExecution", "isRunning", "isCompleted",
}

// paramSources lists the keys Normalize merges params from, left to right;
// earlier entries win over later ones for a given param name.
var paramSources = []string{"data.config", "config", "params", "parameters", "data.params", "data.parameters"}

// Normalize accepts a raw, loosely-shaped draft and emits the canonical
// graph. It never fails: malformed or absent fields fall back to defaults,
// and the validator (C3) is responsible for flagging problems.
func Normalize(draft RawGraph) *domain.Graph {
	out := &domain.Graph{
		Nodes: make([]*domain.Node, 0, len(draft.Nodes)),
		Edges: make([]*domain.Edge, 0, len(draft.Edges)),
	}
	for i, rn := range draft.Nodes {
		out.Nodes = append(out.Nodes, normalizeNode(rn, i))
	}
	for i, re := range draft.Edges {
		if e := normalizeEdge(re, i); e != nil {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

func normalizeNode(rn RawNode, index int) *domain.Node {
	id := stringField(rn, "id")
	if id == "" {
		id = fmt.Sprintf("node_%d", index)
	}

	role := inferRole(rn)
	app := inferApp(rn)
	operation := inferOperation(rn)
	nodeType := string(role) + "." + app + "." + operation

	params := mergeParams(rn)
	propagateConnectionID(rn, params)

	for _, f := range executionStateFields {
		delete(rn, f)
	}

	node := &domain.Node{
		ID:        id,
		Role:      role,
		App:       app,
		Operation: operation,
		NodeType:  nodeType,
		Params:    params,
		Position:  position(rn),
		Metadata:  anyMapField(rn, "metadata"),
	}
	node.AuthRef = resolveAuthRef(rn)
	if creds := anyMapField(rn, "inlineCredentials"); creds != nil {
		node.InlineCreds = domain.Credentials(creds)
	}
	node.OutputMetadata = anyMapField(rn, "outputMetadata")

	deriveMetadata(node)
	return node
}

// inferRole implements normalization rule 2: explicit role, else the
// type/nodeType/op prefix before the first '.' or ':', else "action".
func inferRole(rn RawNode) domain.NodeRole {
	if r := stringField(rn, "role"); r != "" {
		return domain.NodeRole(r)
	}
	for _, key := range []string{"type", "nodeType", "op"} {
		if v := stringField(rn, key); v != "" {
			if prefix := splitPrefix(v); prefix != "" {
				return domain.NodeRole(prefix)
			}
		}
	}
	return domain.RoleAction
}

// inferApp implements normalization rule 3.
func inferApp(rn RawNode) string {
	for _, key := range []string{"app", "connectorId", "provider"} {
		if v := stringField(rn, key); v != "" {
			return canonicalize(v)
		}
	}
	for _, key := range []string{"nodeType", "op"} {
		if v := stringField(rn, key); v != "" {
			if seg := segmentAt(v, 1); seg != "" {
				return canonicalize(seg)
			}
		}
	}
	return "core"
}

// inferOperation implements normalization rule 4.
func inferOperation(rn RawNode) string {
	for _, key := range []string{"operation", "function", "actionId", "triggerId"} {
		if v := stringField(rn, key); v != "" {
			return v
		}
	}
	for _, key := range []string{"nodeType", "op"} {
		if v := stringField(rn, key); v != "" {
			if seg := lastSegment(v); seg != "" {
				return seg
			}
		}
	}
	return "run"
}

// canonicalize lower-cases v, replaces non-alphanumerics with '-', and trims
// leading/trailing '-', per normalization rule 3.
func canonicalize(v string) string {
	v = strings.ToLower(v)
	var b strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "core"
	}
	return s
}

// splitPrefix returns the segment of v before the first '.' or ':'.
func splitPrefix(v string) string {
	idx := strings.IndexAny(v, ".:")
	if idx < 0 {
		return ""
	}
	return v[:idx]
}

// segmentAt returns the nth dot/colon-delimited segment of v (0-indexed).
func segmentAt(v string, n int) string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == ':' })
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}

func lastSegment(v string) string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == ':' })
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// mergeParams implements normalization rule 6: left-to-right precedence
// over paramSources, parsing each raw value into its tagged domain.Value.
func mergeParams(rn RawNode) map[string]domain.Value {
	merged := make(map[string]any)
	for _, path := range paramSources {
		m := lookupPath(rn, path)
		for k, v := range m {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	out := make(map[string]domain.Value, len(merged))
	for k, v := range merged {
		out[k] = parseValue(v)
	}
	return out
}

// parseValue recognizes the tagged {"kind": "ref"|"llm", ...} wire shape
// (see domain.MarshalValue); anything else is treated as a static literal.
func parseValue(raw any) domain.Value {
	if m, ok := raw.(map[string]any); ok {
		if kind, _ := m["kind"].(string); kind == "ref" || kind == "llm" {
			if data, err := json.Marshal(m); err == nil {
				if v, err := domain.UnmarshalValue(data); err == nil {
					return v
				}
			}
		}
	}
	return domain.StaticValue{V: raw}
}

// propagateConnectionID implements normalization rule 7: data.connectionId,
// data.auth.connectionId, and params.connectionId are kept mutually
// consistent, with the first non-empty of them winning.
func propagateConnectionID(rn RawNode, params map[string]domain.Value) {
	candidates := []string{
		stringField(lookupPath(rn, "data"), "connectionId"),
		stringField(lookupPath(rn, "data.auth"), "connectionId"),
	}
	if sv, ok := params["connectionId"].(domain.StaticValue); ok {
		if s, ok := sv.V.(string); ok {
			candidates = append(candidates, s)
		}
	}
	for _, c := range candidates {
		if c != "" {
			params["connectionId"] = domain.StaticValue{V: c}
			return
		}
	}
}

// resolveAuthRef takes the first non-empty connectionId set by
// propagateConnectionID as the node's saved-connection reference.
func resolveAuthRef(rn RawNode) string {
	data := lookupPath(rn, "data")
	if v := stringField(data, "connectionId"); v != "" {
		return v
	}
	auth := lookupPath(rn, "data.auth")
	if v := stringField(auth, "connectionId"); v != "" {
		return v
	}
	params := lookupPath(rn, "params")
	return stringField(params, "connectionId")
}

// deriveMetadata seeds metadata.columns from param names when absent, and
// mirrors metadata into outputMetadata when the latter is absent. Both are
// advisory hints, never trusted as execution input.
func deriveMetadata(n *domain.Node) {
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	if _, ok := n.Metadata["columns"]; !ok && len(n.Params) > 0 {
		keys := make([]string, 0, len(n.Params))
		for k := range n.Params {
			keys = append(keys, k)
		}
		n.Metadata["columns"] = keys
	}
	if n.OutputMetadata == nil {
		n.OutputMetadata = cloneMap(n.Metadata)
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func normalizeEdge(re RawEdge, index int) *domain.Edge {
	source := stringField(re, "source")
	if source == "" {
		source = stringField(re, "from")
	}
	target := stringField(re, "target")
	if target == "" {
		target = stringField(re, "to")
	}
	if source == "" || target == "" {
		return nil
	}

	id := stringField(re, "id")
	if id == "" {
		id = fmt.Sprintf("edge-%d-%s-%s", index, source, target)
	}

	return &domain.Edge{
		ID:           id,
		Source:       source,
		Target:       target,
		SourceHandle: stringField(re, "sourceHandle"),
		TargetHandle: stringField(re, "targetHandle"),
		Label:        stringField(re, "label"),
		DataType:     stringField(re, "dataType"),
	}
}

func position(rn RawNode) domain.Position {
	p := lookupPath(rn, "position")
	return domain.Position{X: floatField(p, "x"), Y: floatField(p, "y")}
}

// --- untyped-map helpers -------------------------------------------------

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func anyMapField(rn RawNode, key string) map[string]any {
	if v, ok := rn[key].(map[string]any); ok {
		return v
	}
	return nil
}

// lookupPath resolves a dotted path of map keys ("data.auth") against rn,
// returning nil if any segment is absent or not itself a map.
func lookupPath(rn map[string]any, path string) map[string]any {
	cur := rn
	for _, part := range strings.Split(path, ".") {
		if cur == nil {
			return nil
		}
		v, ok := cur[part]
		if !ok {
			return nil
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		cur = m
	}
	return cur
}
