package diff

import (
	"reflect"
	"testing"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/domain"
)

func node(id string, role domain.NodeRole, app, op string, params map[string]domain.Value) *domain.Node {
	return &domain.Node{ID: id, Role: role, App: app, Operation: op, NodeType: string(role) + "." + app + "." + op, Params: params}
}

func edge(id, source, target, sourceHandle string) *domain.Edge {
	return &domain.Edge{ID: id, Source: source, Target: target, SourceHandle: sourceHandle}
}

func str(v string) domain.Value { return domain.StaticValue{V: v} }

func testIndex() *capability.Index {
	return capability.NewIndex([]capability.Connector{
		{
			App: "http", Name: "HTTP", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"request": {
					ID: "request", Role: capability.RoleAction, Implemented: true,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"url": map[string]any{"type": "string"}, "apiKey": map[string]any{"type": "string"}},
						"required":   []any{"url", "apiKey"},
					},
				},
			},
		},
		{
			App: "transform", Name: "Transform", Lifecycle: capability.LifecycleStable,
			Operations: map[string]capability.Operation{
				"passthrough": {ID: "passthrough", Role: capability.RoleAction, Implemented: true, ParamSchema: map[string]any{"type": "object"}},
			},
		},
	})
}

func TestCompute_AddedAndRemovedNodes(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil)}}
	to := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "transform", "passthrough", nil),
		node("b", domain.RoleAction, "transform", "passthrough", nil),
	}}
	d := Compute(from, to, testIndex())
	if !reflect.DeepEqual(d.AddedNodes, []string{"b"}) {
		t.Fatalf("AddedNodes = %v, want [b]", d.AddedNodes)
	}
	if len(d.RemovedNodes) != 0 {
		t.Fatalf("RemovedNodes = %v, want none", d.RemovedNodes)
	}
}

func TestCompute_RemovedNodes(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "transform", "passthrough", nil),
		node("b", domain.RoleAction, "transform", "passthrough", nil),
	}}
	to := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil)}}
	d := Compute(from, to, testIndex())
	if !reflect.DeepEqual(d.RemovedNodes, []string{"b"}) {
		t.Fatalf("RemovedNodes = %v, want [b]", d.RemovedNodes)
	}
}

// TestCompute_SymmetryLaw asserts diff(A,B).addedNodes == diff(B,A).removedNodes.
func TestCompute_SymmetryLaw(t *testing.T) {
	a := &domain.Graph{Nodes: []*domain.Node{
		node("n1", domain.RoleAction, "transform", "passthrough", nil),
		node("n2", domain.RoleAction, "transform", "passthrough", nil),
	}}
	b := &domain.Graph{Nodes: []*domain.Node{
		node("n2", domain.RoleAction, "transform", "passthrough", nil),
		node("n3", domain.RoleAction, "transform", "passthrough", nil),
		node("n4", domain.RoleAction, "transform", "passthrough", nil),
	}}

	ab := Compute(a, b, testIndex())
	ba := Compute(b, a, testIndex())

	if !reflect.DeepEqual(ab.AddedNodes, ba.RemovedNodes) {
		t.Fatalf("diff(A,B).addedNodes = %v != diff(B,A).removedNodes = %v", ab.AddedNodes, ba.RemovedNodes)
	}
	if !reflect.DeepEqual(ab.RemovedNodes, ba.AddedNodes) {
		t.Fatalf("diff(A,B).removedNodes = %v != diff(B,A).addedNodes = %v", ab.RemovedNodes, ba.AddedNodes)
	}
}

func TestCompute_AddedAndRemovedEdges(t *testing.T) {
	from := &domain.Graph{
		Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil), node("b", domain.RoleAction, "transform", "passthrough", nil)},
		Edges: []*domain.Edge{edge("e1", "a", "b", "")},
	}
	to := &domain.Graph{
		Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil), node("b", domain.RoleAction, "transform", "passthrough", nil)},
		Edges: []*domain.Edge{edge("e2", "a", "b", "")},
	}
	d := Compute(from, to, testIndex())
	if !reflect.DeepEqual(d.AddedEdges, []string{"e2"}) {
		t.Fatalf("AddedEdges = %v, want [e2]", d.AddedEdges)
	}
	if !reflect.DeepEqual(d.RemovedEdges, []string{"e1"}) {
		t.Fatalf("RemovedEdges = %v, want [e1]", d.RemovedEdges)
	}
}

func TestCompute_ModifiedNodes(t *testing.T) {
	cases := []struct {
		name string
		from *domain.Node
		to   *domain.Node
	}{
		{
			name: "operation changed",
			from: node("a", domain.RoleAction, "http", "request", map[string]domain.Value{"url": str("x"), "apiKey": str("k")}),
			to:   node("a", domain.RoleAction, "http", "get", map[string]domain.Value{"url": str("x"), "apiKey": str("k")}),
		},
		{
			name: "param key set changed",
			from: node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{"x": str("1")}),
			to:   node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{"y": str("1")}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from := &domain.Graph{Nodes: []*domain.Node{tc.from}}
			to := &domain.Graph{Nodes: []*domain.Node{tc.to}}
			d := Compute(from, to, testIndex())
			if !reflect.DeepEqual(d.ModifiedNodes, []string{"a"}) {
				t.Fatalf("ModifiedNodes = %v, want [a]", d.ModifiedNodes)
			}
		})
	}
}

func TestCompute_UnmodifiedNodeNotFlagged(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{"x": str("1")})}}
	to := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{"x": str("2")})}}
	d := Compute(from, to, testIndex())
	if len(d.ModifiedNodes) != 0 {
		t.Fatalf("a param value-only change must not be flagged structurally modified, got %v", d.ModifiedNodes)
	}
}

func hasBreaking(changes []domain.BreakingChange, nodeID string, typ domain.BreakingChangeType) bool {
	for _, c := range changes {
		if c.NodeID == nodeID && c.Type == typ {
			return true
		}
	}
	return false
}

func TestCompute_BreakingChange_OutputRemoved(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{
		node("src", domain.RoleAction, "transform", "passthrough", nil),
		node("consumer", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{
			"in": domain.RefValue{NodeID: "src", Path: "output.email"},
		}),
	}}
	to := &domain.Graph{Nodes: []*domain.Node{
		node("consumer", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{
			"in": domain.RefValue{NodeID: "src", Path: "output.email"},
		}),
	}}
	d := Compute(from, to, testIndex())
	if !reflect.DeepEqual(d.RemovedNodes, []string{"src"}) {
		t.Fatalf("RemovedNodes = %v, want [src]", d.RemovedNodes)
	}
	if !hasBreaking(d.BreakingChanges, "consumer", domain.BreakingOutputRemoved) {
		t.Fatalf("expected output-removed breaking change for consumer, got %+v", d.BreakingChanges)
	}
}

func TestCompute_NoBreakingChangeWhenRemovedNodeUnreferenced(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{node("src", domain.RoleAction, "transform", "passthrough", nil)}}
	to := &domain.Graph{}
	d := Compute(from, to, testIndex())
	if d.HasBreakingChanges() {
		t.Fatalf("removing an unreferenced node must not be breaking, got %+v", d.BreakingChanges)
	}
}

func TestCompute_BreakingChange_RequiredInputAdded(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "http", "request", map[string]domain.Value{"url": str("x")}),
	}}
	to := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "http", "request", map[string]domain.Value{"url": str("x"), "apiKey": str("k")}),
	}}
	d := Compute(from, to, testIndex())
	if !hasBreaking(d.BreakingChanges, "a", domain.BreakingRequiredInputAdded) {
		t.Fatalf("expected required-input-added breaking change, got %+v", d.BreakingChanges)
	}
}

func TestCompute_NoBreakingChangeWhenAddedParamNotRequired(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{"x": str("1")}),
	}}
	to := &domain.Graph{Nodes: []*domain.Node{
		node("a", domain.RoleAction, "transform", "passthrough", map[string]domain.Value{"x": str("1"), "y": str("2")}),
	}}
	d := Compute(from, to, testIndex())
	if d.HasBreakingChanges() {
		t.Fatalf("adding a non-required param must not be breaking, got %+v", d.BreakingChanges)
	}
}

func TestCompute_BreakingChange_HandleRemoved(t *testing.T) {
	from := &domain.Graph{
		Nodes: []*domain.Node{
			node("c", domain.RoleCondition, "condition", "branch", nil),
			node("x", domain.RoleAction, "transform", "passthrough", nil),
			node("y", domain.RoleAction, "transform", "passthrough", nil),
		},
		Edges: []*domain.Edge{edge("e1", "c", "x", "true"), edge("e2", "c", "y", "false")},
	}
	to := &domain.Graph{
		Nodes: []*domain.Node{
			node("c", domain.RoleCondition, "condition", "branch", nil),
			node("x", domain.RoleAction, "transform", "passthrough", nil),
		},
		Edges: []*domain.Edge{edge("e1", "c", "x", "true")},
	}
	d := Compute(from, to, testIndex())
	if !hasBreaking(d.BreakingChanges, "c", domain.BreakingHandleRemoved) {
		t.Fatalf("expected handle-removed breaking change for the dropped false branch, got %+v", d.BreakingChanges)
	}
}

func TestCompute_NoBreakingChangeWhenHandlesUnchanged(t *testing.T) {
	from := &domain.Graph{
		Nodes: []*domain.Node{node("c", domain.RoleCondition, "condition", "branch", nil), node("x", domain.RoleAction, "transform", "passthrough", nil)},
		Edges: []*domain.Edge{edge("e1", "c", "x", "true")},
	}
	to := &domain.Graph{
		Nodes: []*domain.Node{node("c", domain.RoleCondition, "condition", "branch", nil), node("x", domain.RoleAction, "transform", "passthrough", nil)},
		Edges: []*domain.Edge{edge("e1", "c", "x", "true")},
	}
	d := Compute(from, to, testIndex())
	if d.HasBreakingChanges() {
		t.Fatalf("identical handle sets must not be breaking, got %+v", d.BreakingChanges)
	}
}

func TestCompute_BreakingChange_AppOrOperationChanged(t *testing.T) {
	from := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil)}}
	to := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "http", "request", map[string]domain.Value{"url": str("x"), "apiKey": str("k")})}}
	d := Compute(from, to, testIndex())
	if !hasBreaking(d.BreakingChanges, "a", domain.BreakingOutputTypeChanged) {
		t.Fatalf("expected a breaking change when a node's app/operation changes, got %+v", d.BreakingChanges)
	}
}

func TestCompute_FirstPublishHasNoRemovalsOrBreakingChanges(t *testing.T) {
	to := &domain.Graph{Nodes: []*domain.Node{node("a", domain.RoleAction, "transform", "passthrough", nil)}}
	d := Compute(nil, to, testIndex())
	if !reflect.DeepEqual(d.AddedNodes, []string{"a"}) {
		t.Fatalf("AddedNodes = %v, want [a]", d.AddedNodes)
	}
	if len(d.RemovedNodes) != 0 || d.HasBreakingChanges() {
		t.Fatalf("a first publish must have no removals and no breaking changes, got removed=%v breaking=%+v", d.RemovedNodes, d.BreakingChanges)
	}
}

func TestRequiresMigrationPlan(t *testing.T) {
	clean := &domain.WorkflowDiff{}
	if RequiresMigrationPlan(clean) {
		t.Fatalf("a diff with no breaking changes must not require a migration plan")
	}

	breaking := &domain.WorkflowDiff{BreakingChanges: []domain.BreakingChange{{NodeID: "a", Type: domain.BreakingOutputRemoved}}}
	if !RequiresMigrationPlan(breaking) {
		t.Fatalf("a diff with breaking changes must require a migration plan")
	}
}
