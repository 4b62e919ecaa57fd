package validator

import (
	"testing"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/domain"
)

func node(id string, role domain.NodeRole, app, op string, params map[string]domain.Value) *domain.Node {
	return &domain.Node{ID: id, Role: role, App: app, Operation: op, NodeType: string(role) + "." + app + "." + op, Params: params}
}

func edge(id, source, target string) *domain.Edge {
	return &domain.Edge{ID: id, Source: source, Target: target}
}

func str(v string) domain.Value { return domain.StaticValue{V: v} }

// testCatalog gives each miss reason and lifecycle badge its own connector,
// independent of capability.BuiltinCatalog so the expected miss/lifecycle is
// pinned regardless of how the real catalog evolves.
func testCatalog() []capability.Connector {
	return []capability.Connector{
		{
			App: "http", Name: "HTTP", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"request": {
					ID: "request", Role: capability.RoleAction, Implemented: true,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"method": map[string]any{"type": "string"}, "count": map[string]any{"type": "number"}},
						"required":   []any{"method"},
					},
				},
			},
		},
		{
			App: "core", Name: "Core", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"manual": {ID: "manual", Role: capability.RoleTrigger, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
		{
			App: "secure", Name: "Secure", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"call": {
					ID: "call", Role: capability.RoleAction, Implemented: true,
					RequiredScopes: []string{"secure:call"},
					ParamSchema:    map[string]any{"type": "object"},
				},
			},
		},
		{
			App: "legacy", Name: "Legacy", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"noop": {ID: "noop", Role: capability.RoleAction, Implemented: false, ParamSchema: map[string]any{"type": "object"}},
			},
		},
		{
			App: "condition", Name: "Condition", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"branch": {ID: "branch", Role: capability.RoleAction, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
		{
			App: "transform", Name: "Transform", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"passthrough": {ID: "passthrough", Role: capability.RoleAction, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
		{
			App: "betaApp", Name: "Beta App", Lifecycle: capability.LifecycleBeta,
			Operations: map[string]capability.Operation{
				"run": {ID: "run", Role: capability.RoleAction, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
		{
			App: "alphaApp", Name: "Alpha App", Lifecycle: capability.LifecycleAlpha,
			Operations: map[string]capability.Operation{
				"run": {ID: "run", Role: capability.RoleAction, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
		{
			App: "oldApp", Name: "Old App", Lifecycle: capability.LifecycleDeprecated,
			Operations: map[string]capability.Operation{
				"run": {ID: "run", Role: capability.RoleAction, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
	}
}

func testIndex() *capability.Index { return capability.NewIndex(testCatalog()) }

func hasCode(issues []Issue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func countCode(issues []Issue, code string) int {
	n := 0
	for _, i := range issues {
		if i.Code == code {
			n++
		}
	}
	return n
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{
		node("n1", domain.RoleTrigger, "core", "manual", nil),
		node("n1", domain.RoleAction, "transform", "passthrough", nil),
	}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeDuplicateNodeID) {
		t.Fatalf("expected %s, got %+v", CodeDuplicateNodeID, res.Errors)
	}
}

func TestValidate_DuplicateEdge(t *testing.T) {
	g := &domain.Graph{
		Nodes: []*domain.Node{
			node("t", domain.RoleTrigger, "core", "manual", nil),
			node("a", domain.RoleAction, "transform", "passthrough", nil),
		},
		Edges: []*domain.Edge{edge("e1", "t", "a"), edge("e1", "t", "a")},
	}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeDuplicateEdge) {
		t.Fatalf("expected %s, got %+v", CodeDuplicateEdge, res.Errors)
	}
}

func TestValidate_EdgeReferencesNonexistentNode(t *testing.T) {
	g := &domain.Graph{
		Nodes: []*domain.Node{node("t", domain.RoleTrigger, "core", "manual", nil)},
		Edges: []*domain.Edge{edge("e1", "t", "ghost")},
	}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnresolvedRef) {
		t.Fatalf("expected %s for dangling edge target, got %+v", CodeUnresolvedRef, res.Errors)
	}
}

// TestValidate_CycleDetected asserts the invariant that a graph with a cycle
// always yields at least one CYCLE_DETECTED error, regardless of cycle size
// or where in the graph it sits.
func TestValidate_CycleDetected(t *testing.T) {
	cases := []struct {
		name  string
		nodes []*domain.Node
		edges []*domain.Edge
	}{
		{
			name: "direct two-cycle",
			nodes: []*domain.Node{
				node("a", domain.RoleAction, "transform", "passthrough", nil),
				node("b", domain.RoleAction, "transform", "passthrough", nil),
			},
			edges: []*domain.Edge{edge("e1", "a", "b"), edge("e2", "b", "a")},
		},
		{
			name: "three-node cycle",
			nodes: []*domain.Node{
				node("a", domain.RoleAction, "transform", "passthrough", nil),
				node("b", domain.RoleAction, "transform", "passthrough", nil),
				node("c", domain.RoleAction, "transform", "passthrough", nil),
			},
			edges: []*domain.Edge{edge("e1", "a", "b"), edge("e2", "b", "c"), edge("e3", "c", "a")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &domain.Graph{Nodes: tc.nodes, Edges: tc.edges}
			res := Validate(g, testIndex(), Options{})
			if !hasCode(res.Errors, CodeCycleDetected) {
				t.Fatalf("expected %s, got %+v", CodeCycleDetected, res.Errors)
			}
			if _, ok := TopoSort(g); ok {
				t.Fatalf("expected TopoSort to report no valid order for a cyclic graph")
			}
		})
	}
}

func TestValidate_AcyclicGraphHasNoCycleError(t *testing.T) {
	g := &domain.Graph{
		Nodes: []*domain.Node{
			node("t", domain.RoleTrigger, "core", "manual", nil),
			node("a", domain.RoleAction, "transform", "passthrough", nil),
		},
		Edges: []*domain.Edge{edge("e1", "t", "a")},
	}
	res := Validate(g, testIndex(), Options{})
	if hasCode(res.Errors, CodeCycleDetected) {
		t.Fatalf("did not expect %s on an acyclic graph, got %+v", CodeCycleDetected, res.Errors)
	}
	order, ok := TopoSort(g)
	if !ok || len(order) != 2 {
		t.Fatalf("expected a valid topo order, got %v ok=%v", order, ok)
	}
}

func TestValidate_TriggerMustHaveZeroPredecessors(t *testing.T) {
	g := &domain.Graph{
		Nodes: []*domain.Node{
			node("a", domain.RoleAction, "transform", "passthrough", nil),
			node("t", domain.RoleTrigger, "core", "manual", nil),
		},
		Edges: []*domain.Edge{edge("e1", "a", "t")},
	}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnresolvedRef) {
		t.Fatalf("expected %s for a trigger with a predecessor, got %+v", CodeUnresolvedRef, res.Errors)
	}
}

func TestValidate_FanInRejected(t *testing.T) {
	g := &domain.Graph{
		Nodes: []*domain.Node{
			node("t1", domain.RoleTrigger, "core", "manual", nil),
			node("t2", domain.RoleTrigger, "core", "manual", nil),
			node("a", domain.RoleAction, "transform", "passthrough", nil),
		},
		Edges: []*domain.Edge{edge("e1", "t1", "a"), edge("e2", "t2", "a")},
	}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnresolvedRef) {
		t.Fatalf("expected %s for fan-in, got %+v", CodeUnresolvedRef, res.Errors)
	}
}

func TestValidate_OrphanAction(t *testing.T) {
	g := &domain.Graph{
		Nodes: []*domain.Node{
			node("a", domain.RoleAction, "transform", "passthrough", nil),
			node("b", domain.RoleAction, "transform", "passthrough", nil),
		},
		Edges: []*domain.Edge{edge("e1", "a", "b")},
	}
	res := Validate(g, testIndex(), Options{})
	if countCode(res.Errors, CodeOrphanAction) < 2 {
		t.Fatalf("expected both nodes to be flagged as orphans (no trigger ancestor), got %+v", res.Errors)
	}
}

func TestValidate_UnknownConnector(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "nosuchapp", "run", nil)}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnknownConnector) {
		t.Fatalf("expected %s, got %+v", CodeUnknownConnector, res.Errors)
	}
}

func TestValidate_UnknownOperation(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "http", "nosuchop", nil)}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnknownOperation) {
		t.Fatalf("expected %s, got %+v", CodeUnknownOperation, res.Errors)
	}
}

func TestValidate_RoleMismatch(t *testing.T) {
	// "manual" is a trigger-only operation; asking for it as an action is a
	// role mismatch, reported under the same code as an unknown operation.
	g := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "core", "manual", nil)}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnknownOperation) {
		t.Fatalf("expected %s for a role mismatch, got %+v", CodeUnknownOperation, res.Errors)
	}
}

func TestValidate_NotImplemented(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "legacy", "noop", nil)}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeUnknownOperation) {
		t.Fatalf("expected %s for an unimplemented operation, got %+v", CodeUnknownOperation, res.Errors)
	}
}

func TestValidate_MissingConnection(t *testing.T) {
	n := node("a", domain.RoleAction, "secure", "call", nil)
	g := &domain.Graph{Nodes: []*domain.Node{n}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeMissingConnection) {
		t.Fatalf("expected %s when a scoped operation has no connection, got %+v", CodeMissingConnection, res.Errors)
	}

	n.AuthRef = "conn-1"
	res = Validate(g, testIndex(), Options{})
	if hasCode(res.Errors, CodeMissingConnection) {
		t.Fatalf("did not expect %s once a connection is attached, got %+v", CodeMissingConnection, res.Errors)
	}
}

func TestValidate_MissingRequiredParam(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "http", "request", map[string]domain.Value{}),
	}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeMissingRequired) {
		t.Fatalf("expected %s, got %+v", CodeMissingRequired, res.Errors)
	}

	g.Nodes[0].Params = map[string]domain.Value{"method": str("")}
	res = Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeMissingRequired) {
		t.Fatalf("expected %s for an empty required param, got %+v", CodeMissingRequired, res.Errors)
	}

	g.Nodes[0].Params = map[string]domain.Value{"method": str("GET")}
	res = Validate(g, testIndex(), Options{})
	if hasCode(res.Errors, CodeMissingRequired) {
		t.Fatalf("did not expect %s once the required param is set, got %+v", CodeMissingRequired, res.Errors)
	}
}

func TestValidate_ParamTypeMismatch(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "http", "request", map[string]domain.Value{
			"method": str("GET"),
			"count":  domain.StaticValue{V: "not-a-number"},
		}),
	}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Errors, CodeParamTypeMismatch) {
		t.Fatalf("expected %s, got %+v", CodeParamTypeMismatch, res.Errors)
	}
}

func TestValidate_ParamTypeMismatchSkipsRefAndLLMValues(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{
		node("t", domain.RoleTrigger, "core", "manual", nil),
		node("a", domain.RoleAction, "http", "request", map[string]domain.Value{
			"method": str("GET"),
			"count":  domain.RefValue{NodeID: "t", Path: "output.count"},
		}),
	}}
	g.Edges = []*domain.Edge{edge("e1", "t", "a")}
	res := Validate(g, testIndex(), Options{})
	if hasCode(res.Errors, CodeParamTypeMismatch) {
		t.Fatalf("did not expect a type check against an unresolved ref value, got %+v", res.Errors)
	}
}

func TestValidate_RefAncestorRule(t *testing.T) {
	// ref(n, p) is valid iff n is a proper ancestor of the referring node.
	t.Run("valid: source is a proper ancestor", func(t *testing.T) {
		g := &domain.Graph{
			Nodes: []*domain.Node{
				node("t", domain.RoleTrigger, "core", "manual", nil),
				node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{
					"in": domain.RefValue{NodeID: "t", Path: "output"},
				}),
			},
			Edges: []*domain.Edge{edge("e1", "t", "a")},
		}
		res := Validate(g, testIndex(), Options{})
		if hasCode(res.Errors, CodeUnresolvedRef) {
			t.Fatalf("did not expect %s for a valid ancestor ref, got %+v", CodeUnresolvedRef, res.Errors)
		}
	})

	t.Run("invalid: ref targets a sibling, not an ancestor", func(t *testing.T) {
		g := &domain.Graph{
			Nodes: []*domain.Node{
				node("t", domain.RoleTrigger, "core", "manual", nil),
				node("a", domain.RoleAction, "transform", "passthrough", nil),
				node("b", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{
					"in": domain.RefValue{NodeID: "a", Path: "output"},
				}),
			},
			Edges: []*domain.Edge{edge("e1", "t", "a"), edge("e2", "t", "b")},
		}
		res := Validate(g, testIndex(), Options{})
		if !hasCode(res.Errors, CodeUnresolvedRef) {
			t.Fatalf("expected %s for a ref to a non-ancestor sibling, got %+v", CodeUnresolvedRef, res.Errors)
		}
	})

	t.Run("invalid: ref targets a non-existent node", func(t *testing.T) {
		g := &domain.Graph{
			Nodes: []*domain.Node{
				node("t", domain.RoleTrigger, "core", "manual", nil),
				node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{
					"in": domain.RefValue{NodeID: "ghost", Path: "output"},
				}),
			},
			Edges: []*domain.Edge{edge("e1", "t", "a")},
		}
		res := Validate(g, testIndex(), Options{})
		if !hasCode(res.Errors, CodeUnresolvedRef) {
			t.Fatalf("expected %s for a ref to a non-existent node, got %+v", CodeUnresolvedRef, res.Errors)
		}
	})

	t.Run("invalid: ref targets a descendant", func(t *testing.T) {
		g := &domain.Graph{
			Nodes: []*domain.Node{
				node("t", domain.RoleTrigger, "core", "manual", nil),
				node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{
					"in": domain.RefValue{NodeID: "b", Path: "output"},
				}),
				node("b", domain.RoleAction, "transform", "passthrough", nil),
			},
			Edges: []*domain.Edge{edge("e1", "t", "a"), edge("e2", "a", "b")},
		}
		res := Validate(g, testIndex(), Options{})
		if !hasCode(res.Errors, CodeUnresolvedRef) {
			t.Fatalf("expected %s for a ref to a descendant, got %+v", CodeUnresolvedRef, res.Errors)
		}
	})
}

func TestValidate_UnusedOutput(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{
		node("t", domain.RoleTrigger, "core", "manual", nil),
		node("a", domain.RoleAction, "transform", "passthrough", nil),
	}}
	g.Edges = []*domain.Edge{edge("e1", "t", "a")}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Warnings, CodeUnusedOutput) {
		t.Fatalf("expected %s for a's output never being consumed, got %+v", CodeUnusedOutput, res.Warnings)
	}
}

func TestValidate_LifecycleWarnings(t *testing.T) {
	cases := []struct {
		app  string
		code string
	}{
		{"betaApp", CodeLifecycleBeta},
		{"alphaApp", CodeLifecycleAlpha},
		{"oldApp", CodeLifecycleDeprecated},
	}
	for _, tc := range cases {
		t.Run(tc.app, func(t *testing.T) {
			g := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, tc.app, "run", nil)}}
			res := Validate(g, testIndex(), Options{})
			if !hasCode(res.Warnings, tc.code) {
				t.Fatalf("expected %s, got %+v", tc.code, res.Warnings)
			}
		})
	}
}

func TestValidate_LargeFanOut(t *testing.T) {
	nodes := []*domain.Node{node("t", domain.RoleTrigger, "core", "manual", nil)}
	var edges []*domain.Edge
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		nodes = append(nodes, node(id, domain.RoleAction, "transform", "passthrough", nil))
		edges = append(edges, edge("e-"+id, "t", id))
	}
	g := &domain.Graph{Nodes: nodes, Edges: edges}

	res := Validate(g, testIndex(), Options{LargeFanOutN: 3})
	if !hasCode(res.Warnings, CodeLargeFanOut) {
		t.Fatalf("expected %s with a threshold of 3 and 5 out-edges, got %+v", CodeLargeFanOut, res.Warnings)
	}

	res = Validate(g, testIndex(), Options{})
	if hasCode(res.Warnings, CodeLargeFanOut) {
		t.Fatalf("did not expect %s under the default threshold of 20, got %+v", CodeLargeFanOut, res.Warnings)
	}
}

func TestValidate_MissingMetadataHint(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{node("t", domain.RoleTrigger, "core", "manual", nil)}}
	res := Validate(g, testIndex(), Options{})
	if !hasCode(res.Warnings, CodeMissingMetadataHint) {
		t.Fatalf("expected %s for a node with no resolved output metadata, got %+v", CodeMissingMetadataHint, res.Warnings)
	}

	g.Nodes[0].OutputMetadata = map[string]any{"columns": []string{"x"}}
	res = Validate(g, testIndex(), Options{})
	if hasCode(res.Warnings, CodeMissingMetadataHint) {
		t.Fatalf("did not expect %s once output metadata is resolved, got %+v", CodeMissingMetadataHint, res.Warnings)
	}
}

// TestValidate_IssueSortOrder asserts Result.Errors is always sorted stably
// by (nodeId, path, code), so repeated validation of an unchanged graph is
// byte-identical.
func TestValidate_IssueSortOrder(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{
		node("z", domain.RoleAction, "nosuchapp", "run", nil),
		node("a", domain.RoleAction, "nosuchapp", "run", nil),
		node("m", domain.RoleAction, "nosuchapp", "run", nil),
	}}
	res := Validate(g, testIndex(), Options{})
	if len(res.Errors) < 3 {
		t.Fatalf("expected at least 3 errors to check ordering, got %+v", res.Errors)
	}
	for i := 1; i < len(res.Errors); i++ {
		prev, cur := res.Errors[i-1], res.Errors[i]
		less := prev.NodeID < cur.NodeID ||
			(prev.NodeID == cur.NodeID && prev.Path < cur.Path) ||
			(prev.NodeID == cur.NodeID && prev.Path == cur.Path && prev.Code <= cur.Code)
		if !less {
			t.Fatalf("errors not sorted by (nodeId, path, code) at index %d: %+v then %+v", i, prev, cur)
		}
	}

	// Repeated validation of the same graph must be byte-identical in order.
	res2 := Validate(g, testIndex(), Options{})
	for i := range res.Errors {
		if res.Errors[i] != res2.Errors[i] {
			t.Fatalf("validation is not deterministic across repeated runs at index %d: %+v vs %+v", i, res.Errors[i], res2.Errors[i])
		}
	}
}

func TestStronglyConnectedComponents_SingleNodeNoSelfLoop(t *testing.T) {
	g := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil)}}
	if HasCycle(g) {
		t.Fatalf("a single node with no edges is never a cycle")
	}
}
