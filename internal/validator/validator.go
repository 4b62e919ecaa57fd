package validator

import (
	"fmt"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/domain"
)

// Options tunes non-structural checks. Zero value is usable: LargeFanOutN
// defaults to 20.
type Options struct {
	LargeFanOutN int
}

func (o Options) fanOutThreshold() int {
	if o.LargeFanOutN > 0 {
		return o.LargeFanOutN
	}
	return 20
}

// Validate is the pure, deterministic entry point: canonical graph ->
// errors + warnings. It performs no I/O and never panics on malformed
// input; malformed input is exactly what it exists to report.
func Validate(g *domain.Graph, index *capability.Index, opts Options) Result {
	var res Result

	checkDuplicateIDs(g, &res)
	checkEdgesReferenceNodes(g, &res)
	checkCycles(g, &res)
	checkFanIn(g, &res)
	checkTriggerAncestry(g, &res)
	checkCapabilities(g, index, &res)
	checkRefs(g, &res)
	checkFanOut(g, opts, &res)
	checkUnusedOutputs(g, &res)
	checkMetadataHints(g, &res)

	sortIssues(res.Errors)
	sortIssues(res.Warnings)
	return res
}

func checkDuplicateIDs(g *domain.Graph, res *Result) {
	seenNodes := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if seenNodes[n.ID] {
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeDuplicateNodeID,
				Severity: SeverityError, Message: fmt.Sprintf("duplicate node id %q", n.ID),
			})
		}
		seenNodes[n.ID] = true
	}

	type handlePair struct{ source, handle string }
	seenEdges := make(map[string]bool, len(g.Edges))
	seenHandles := make(map[handlePair]bool, len(g.Edges))
	for _, e := range g.Edges {
		if seenEdges[e.ID] {
			res.Errors = append(res.Errors, Issue{
				Path: "/edges/" + e.ID, Code: CodeDuplicateEdge,
				Severity: SeverityError, Message: fmt.Sprintf("duplicate edge id %q", e.ID),
			})
		}
		seenEdges[e.ID] = true

		// G1: no parallel duplicate edges with the same handle pair.
		key := handlePair{e.Source + "->" + e.Target, e.SourceHandle}
		if seenHandles[key] {
			res.Errors = append(res.Errors, Issue{
				Path: "/edges/" + e.ID, Code: CodeDuplicateEdge, Severity: SeverityError,
				Message: fmt.Sprintf("duplicate edge %s -> %s on handle %q", e.Source, e.Target, e.SourceHandle),
			})
		}
		seenHandles[key] = true
	}
}

func checkEdgesReferenceNodes(g *domain.Graph, res *Result) {
	ids := nodeIDSet(g)
	for _, e := range g.Edges {
		if !ids[e.Source] {
			res.Errors = append(res.Errors, Issue{
				Path: "/edges/" + e.ID, Code: CodeUnresolvedRef, Severity: SeverityError,
				Message: fmt.Sprintf("edge %s references non-existent source node %q", e.ID, e.Source),
			})
		}
		if !ids[e.Target] {
			res.Errors = append(res.Errors, Issue{
				Path: "/edges/" + e.ID, Code: CodeUnresolvedRef, Severity: SeverityError,
				Message: fmt.Sprintf("edge %s references non-existent target node %q", e.ID, e.Target),
			})
		}
	}
}

// checkCycles implements G2 (strict DAG) via the shared Tarjan SCC
// primitive, one error per strongly connected component with >1 member.
func checkCycles(g *domain.Graph, res *Result) {
	for _, comp := range StronglyConnectedComponents(g) {
		if len(comp) > 1 {
			res.Errors = append(res.Errors, Issue{
				Path: "/graph", Code: CodeCycleDetected, Severity: SeverityError,
				Message: fmt.Sprintf("cycle detected among nodes: %v", comp),
			})
		}
	}
}

// checkFanIn implements G3: a non-trigger node may have at most one
// predecessor; condition nodes get no exception, so no node accepts
// fan-in. G4: every trigger has zero predecessors.
func checkFanIn(g *domain.Graph, res *Result) {
	for _, n := range g.Nodes {
		preds := g.Predecessors(n.ID)
		if n.Role == domain.RoleTrigger {
			if len(preds) > 0 {
				res.Errors = append(res.Errors, Issue{
					NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeUnresolvedRef, Severity: SeverityError,
					Message: "trigger node must have zero predecessors",
				})
			}
			continue
		}
		if n.Role == domain.RoleCondition {
			// Condition join nodes are a deferred feature (see DESIGN.md);
			// fan-in into a condition node is treated the same as any
			// other non-trigger node for now.
		}
		if len(preds) > 1 {
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeUnresolvedRef, Severity: SeverityError,
				Message: fmt.Sprintf("node %s has %d predecessors; fan-in is not supported", n.ID, len(preds)),
			})
		}
	}
}

// checkTriggerAncestry implements G5: every reachable non-trigger node has
// at least one trigger ancestor; unreachable non-trigger nodes with no
// predecessors at all are orphans.
func checkTriggerAncestry(g *domain.Graph, res *Result) {
	ancestorsOf := ancestorSets(g)
	for _, n := range g.Nodes {
		if n.Role == domain.RoleTrigger {
			continue
		}
		hasTriggerAncestor := false
		for a := range ancestorsOf[n.ID] {
			if owner, err := g.NodeByID(a); err == nil && owner.Role == domain.RoleTrigger {
				hasTriggerAncestor = true
				break
			}
		}
		if !hasTriggerAncestor {
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeOrphanAction, Severity: SeverityError,
				Message: fmt.Sprintf("node %s is reachable but has no trigger ancestor", n.ID),
			})
		}
	}
}

func checkCapabilities(g *domain.Graph, index *capability.Index, res *Result) {
	if index == nil {
		return
	}
	for _, n := range g.Nodes {
		role := capability.Role(n.Role)
		if n.Role == domain.RoleTransform || n.Role == domain.RoleCondition {
			// transform and condition nodes run in-process actions; the
			// catalog records their operations under RoleAction, not a
			// role of their own, so they aren't looked up by node role.
			role = capability.RoleAuto
		}
		handle, miss := index.Resolve(n.App, n.Operation, role)
		switch miss {
		case capability.MissUnknownApp:
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID + "/app", Code: CodeUnknownConnector, Severity: SeverityError,
				Message: fmt.Sprintf("unknown connector %q", n.App),
			})
			continue
		case capability.MissUnknownOperation, capability.MissNotImplemented:
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID + "/operation", Code: CodeUnknownOperation, Severity: SeverityError,
				Message: fmt.Sprintf("unknown or unimplemented operation %q on %q", n.Operation, n.App),
			})
			continue
		case capability.MissRoleMismatch:
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID + "/role", Code: CodeUnknownOperation, Severity: SeverityError,
				Message: fmt.Sprintf("operation %q on %q does not support role %q", n.Operation, n.App, n.Role),
			})
			continue
		}

		if n.Role == domain.RoleAction && len(handle.Operation.RequiredScopes) > 0 && !n.HasConnection() {
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID + "/authRef", Code: CodeMissingConnection, Severity: SeverityError,
				Message: "action requires auth but has neither a connectionId nor inline credentials",
			})
		}

		checkRequiredParams(n, handle.Operation, res)
		checkParamTypes(n, handle.Operation, res)
		checkLifecycle(n, handle.App, res)
	}
}

func checkRequiredParams(n *domain.Node, op capability.Operation, res *Result) {
	required, _ := op.ParamSchema["required"].([]string)
	if required == nil {
		if anyReq, ok := op.ParamSchema["required"].([]any); ok {
			for _, r := range anyReq {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, key := range required {
		v, ok := n.Params[key]
		if !ok || isEmptyValue(v) {
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID + "/params/" + key, Code: CodeMissingRequired,
				Severity: SeverityError, Message: fmt.Sprintf("required parameter %q is missing", key),
			})
		}
	}
}

func isEmptyValue(v domain.Value) bool {
	sv, ok := v.(domain.StaticValue)
	if !ok {
		return false
	}
	switch t := sv.V.(type) {
	case nil:
		return true
	case string:
		return t == ""
	default:
		return false
	}
}

func checkParamTypes(n *domain.Node, op capability.Operation, res *Result) {
	props, _ := op.ParamSchema["properties"].(map[string]any)
	for key, sv := range n.Params {
		static, ok := sv.(domain.StaticValue)
		if !ok || props == nil {
			continue // refs/llm values are resolved at dispatch time, not statically typed here
		}
		schema, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if msg, mismatched := schemaMismatch(static.V, schema); mismatched {
			res.Errors = append(res.Errors, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID + "/params/" + key, Code: CodeParamTypeMismatch,
				Severity: SeverityError, Message: msg,
			})
		}
	}
}

// schemaMismatch performs a minimal JSON-schema type/enum check sufficient
// for the param shapes connectors declare; it is not a general-purpose
// schema validator.
func schemaMismatch(v any, schema map[string]any) (string, bool) {
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if e == v {
				return "", false
			}
		}
		return fmt.Sprintf("value %v is not one of %v", v, enum), true
	}
	wantType, _ := schema["type"].(string)
	if wantType == "" {
		return "", false
	}
	if !matchesJSONType(v, wantType) {
		return fmt.Sprintf("value %v does not match expected type %q", v, wantType), true
	}
	return "", false
}

func matchesJSONType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "integer":
		switch t := v.(type) {
		case int, int64:
			return true
		case float64:
			return t == float64(int64(t))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func checkLifecycle(n *domain.Node, conn capability.Connector, res *Result) {
	switch conn.Lifecycle {
	case capability.LifecycleBeta:
		res.Warnings = append(res.Warnings, Issue{NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeLifecycleBeta,
			Severity: SeverityWarning, Message: fmt.Sprintf("connector %q is in beta", conn.App)})
	case capability.LifecycleAlpha:
		res.Warnings = append(res.Warnings, Issue{NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeLifecycleAlpha,
			Severity: SeverityWarning, Message: fmt.Sprintf("connector %q is in alpha", conn.App)})
	case capability.LifecycleDeprecated, capability.LifecycleSunset:
		res.Warnings = append(res.Warnings, Issue{NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeLifecycleDeprecated,
			Severity: SeverityWarning, Message: fmt.Sprintf("connector %q is deprecated", conn.App)})
	}
}

// checkRefs implements the ref-ancestor invariant: ref(nodeId, path) is
// valid iff nodeId is a proper ancestor of the referring node.
func checkRefs(g *domain.Graph, res *Result) {
	ancestorsOf := ancestorSets(g)
	for _, n := range g.Nodes {
		for key, v := range n.Params {
			ref, ok := v.(domain.RefValue)
			if !ok {
				continue
			}
			if _, err := g.NodeByID(ref.NodeID); err != nil {
				res.Errors = append(res.Errors, Issue{
					NodeID: n.ID, Path: "/nodes/" + n.ID + "/params/" + key, Code: CodeUnresolvedRef,
					Severity: SeverityError, Message: fmt.Sprintf("ref targets non-existent node %q", ref.NodeID),
				})
				continue
			}
			if !ancestorsOf[n.ID][ref.NodeID] {
				res.Errors = append(res.Errors, Issue{
					NodeID: n.ID, Path: "/nodes/" + n.ID + "/params/" + key, Code: CodeUnresolvedRef,
					Severity: SeverityError,
					Message:  fmt.Sprintf("ref targets %q, which is not an ancestor of %q", ref.NodeID, n.ID),
				})
			}
		}
	}
}

func checkFanOut(g *domain.Graph, opts Options, res *Result) {
	threshold := opts.fanOutThreshold()
	counts := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		counts[e.Source]++
	}
	for id, c := range counts {
		if c > threshold {
			res.Warnings = append(res.Warnings, Issue{
				NodeID: id, Path: "/nodes/" + id, Code: CodeLargeFanOut, Severity: SeverityWarning,
				Message: fmt.Sprintf("node %s fans out to %d edges (> %d)", id, c, threshold),
			})
		}
	}
}

func checkUnusedOutputs(g *domain.Graph, res *Result) {
	referenced := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, v := range n.Params {
			if ref, ok := v.(domain.RefValue); ok {
				referenced[ref.NodeID] = true
			}
		}
	}
	for _, n := range g.Nodes {
		if len(g.OutEdges(n.ID)) == 0 && !referenced[n.ID] && n.Role != domain.RoleTrigger {
			res.Warnings = append(res.Warnings, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeUnusedOutput, Severity: SeverityWarning,
				Message: fmt.Sprintf("node %s's output is never consumed", n.ID),
			})
		}
	}
}

func checkMetadataHints(g *domain.Graph, res *Result) {
	for _, n := range g.Nodes {
		if len(n.OutputMetadata) == 0 {
			res.Warnings = append(res.Warnings, Issue{
				NodeID: n.ID, Path: "/nodes/" + n.ID, Code: CodeMissingMetadataHint, Severity: SeverityWarning,
				Message: fmt.Sprintf("node %s has no resolved output metadata yet", n.ID),
			})
		}
	}
}

func nodeIDSet(g *domain.Graph) map[string]bool {
	m := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		m[n.ID] = true
	}
	return m
}

// ancestorSets returns, for every node id, the set of node ids that can
// reach it by following edges forward (i.e. its proper ancestors).
func ancestorSets(g *domain.Graph) map[string]map[string]bool {
	preds := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		preds[n.ID] = nil
	}
	for _, e := range g.Edges {
		preds[e.Target] = append(preds[e.Target], e.Source)
	}

	result := make(map[string]map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		result[n.ID] = bfsAncestors(n.ID, preds)
	}
	return result
}

func bfsAncestors(start string, preds map[string][]string) map[string]bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), preds[start]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		queue = append(queue, preds[cur]...)
	}
	return visited
}
