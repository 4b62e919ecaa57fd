package service

import (
	"context"
	"testing"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/graph"
	"github.com/fluxgraph/engine/internal/resolver"
)

func TestRefreshMetadata_SkipsNodesWithoutConnection(t *testing.T) {
	f := newTestFixture(t)

	wf, err := f.ops.SaveWorkflow(context.Background(), SaveWorkflowParams{Name: "wf", Graph: simpleGraph()})
	if err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	result, err := f.ops.RefreshMetadata(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("RefreshMetadata: %v", err)
	}
	if len(result.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics for nodes with no connection, got %+v", result.Diagnostics)
	}
}

func TestRefreshMetadata_RecordsDiagnosticForAppWithNoDescriber(t *testing.T) {
	f := newTestFixture(t)

	withConnection := graph.RawGraph{
		Nodes: []graph.RawNode{
			{"id": "n1", "role": "trigger", "app": "core", "operation": "manual"},
			{"id": "n2", "role": "action", "app": "transform", "operation": "passthrough", "params": map[string]any{
				"connectionId": "conn-1",
			}},
		},
		Edges: []graph.RawEdge{{"id": "e1", "source": "n1", "target": "n2"}},
	}
	wf, err := f.ops.SaveWorkflow(context.Background(), SaveWorkflowParams{Name: "wf", Graph: withConnection})
	if err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	result, err := f.ops.RefreshMetadata(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("RefreshMetadata: %v", err)
	}
	if len(result.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic for a describer-less app, got %+v", result.Diagnostics)
	}
	if result.Diagnostics[0].NodeID != "n2" {
		t.Fatalf("expected diagnostic for n2, got %q", result.Diagnostics[0].NodeID)
	}
}

func TestMergeInto_PopulatesMetadataAndOutputSchema(t *testing.T) {
	node := &domain.Node{ID: "n2", App: "http", Operation: "request"}
	result := &resolver.DescribeResult{
		Columns:      []string{"id", "name"},
		SampleRow:    map[string]any{"id": 1, "name": "widget"},
		OutputSchema: map[string]any{"type": "object"},
	}

	resolver.MergeInto(node, result)

	if node.Metadata["sampleRow"] == nil {
		t.Fatal("expected sample row to be merged into node metadata")
	}
	if node.OutputMetadata["schema"] == nil {
		t.Fatal("expected output schema to be merged into node output metadata")
	}
}

func TestRefreshMetadata_UnknownWorkflowFails(t *testing.T) {
	f := newTestFixture(t)

	_, err := f.ops.RefreshMetadata(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected an error for an unknown workflow")
	}
}
