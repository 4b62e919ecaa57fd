package service

import (
	"context"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/resolver"
)

// RefreshMetadataResult reports, per node, whether the describe call
// succeeded or produced a diagnostic.
type RefreshMetadataResult struct {
	Diagnostics []resolver.Diagnostic
}

// RefreshMetadata resolves structural metadata (columns, tabs, sample
// rows, output schema) for every node in the workflow's draft graph that
// carries a connection, and persists the enriched graph back. Nodes with
// no connection or whose app has no describer are skipped or recorded as
// a diagnostic; neither blocks the refresh of the rest of the graph.
func (o *Operations) RefreshMetadata(ctx context.Context, workflowID string) (*RefreshMetadataResult, error) {
	wf, err := o.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	result := &RefreshMetadataResult{}
	for _, node := range wf.Graph.Nodes {
		if !node.HasConnection() {
			continue
		}

		req := resolver.Request{
			NodeID:      node.ID,
			App:         node.App,
			Operation:   node.Operation,
			Params:      staticParams(node.Params),
			Credentials: node.InlineCreds,
		}

		describeResult, diag := o.Resolver.Resolve(ctx, req)
		if diag != nil {
			result.Diagnostics = append(result.Diagnostics, *diag)
			continue
		}
		resolver.MergeInto(node, describeResult)
	}

	if err := o.Workflows.SaveWorkflow(ctx, wf); err != nil {
		o.Logger.Error("failed to save refreshed workflow", "error", err, "workflowId", workflowID)
		return nil, err
	}

	return result, nil
}

// staticParams extracts the literal params a describe call can use.
// Ref and LLM values only resolve at dispatch time against a run's
// artifact store, so they are omitted here rather than sent as nil.
func staticParams(params map[string]domain.Value) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sv, ok := v.(domain.StaticValue); ok {
			out[k] = sv.V
		}
	}
	return out
}
