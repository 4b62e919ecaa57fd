package dispatch

import (
	"context"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/refpath"
)

// LLMResolver resolves an llm(...) param value. *builtin.LLMInvoker
// satisfies this directly; it is injected rather than imported so
// dispatch never depends on a specific connector app's package.
type LLMResolver interface {
	Resolve(ctx context.Context, v domain.LLMValue) (string, error)
}

// resolveParams resolves every param on node against the run's artifact
// store, per spec section 4.5 step 4. A ref whose path misses returns
// ErrorKindRefUnresolved; an llm value failure surfaces the resolver's
// own classified error unchanged.
func resolveParams(ctx context.Context, node *domain.Node, artifacts *domain.ArtifactStore, llm LLMResolver) (map[string]any, error) {
	out := make(map[string]any, len(node.Params))
	for key, v := range node.Params {
		resolved, err := resolveValue(ctx, v, artifacts, llm)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func resolveValue(ctx context.Context, v domain.Value, artifacts *domain.ArtifactStore, llm LLMResolver) (any, error) {
	switch val := v.(type) {
	case domain.StaticValue:
		return val.V, nil
	case domain.RefValue:
		root, ok := artifacts.Get(val.NodeID)
		if !ok {
			return nil, domain.NewConnectorError(domain.ErrorKindRefUnresolved, "ref: node "+val.NodeID+" has no artifact")
		}
		resolved, err := refpath.Resolve(root, val.Path)
		if err != nil {
			return nil, domain.NewConnectorError(domain.ErrorKindRefUnresolved, "ref: "+val.NodeID+"."+val.Path+": "+err.Error())
		}
		return resolved, nil
	case domain.LLMValue:
		if llm == nil {
			return nil, domain.NewConnectorError(domain.ErrorKindFatalInternal, "llm value resolution requested but no resolver configured")
		}
		content, err := llm.Resolve(ctx, val)
		if err != nil {
			return nil, err
		}
		return content, nil
	default:
		return nil, domain.NewConnectorError(domain.ErrorKindFatalInternal, "unknown param value kind")
	}
}
