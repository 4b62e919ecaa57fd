package builtin

import (
	"context"

	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/domain"
)

// CoreInvoker implements the core app's trigger operations (manual,
// webhook, cron) and the "run" fallback action that normalize rule 5
// assigns to nodes with no other inferable identity. Triggers don't do
// work themselves; the dispatcher starts a run with whatever payload
// produced the trigger (manual input, webhook body, cron firing) as the
// trigger node's own output artifact.
type CoreInvoker struct{}

// NewCoreInvoker returns a CoreInvoker.
func NewCoreInvoker() *CoreInvoker {
	return &CoreInvoker{}
}

func (inv *CoreInvoker) Invoke(_ context.Context, operationID string, params map[string]any, _ domain.Credentials) (connector.Output, error) {
	switch operationID {
	case "manual", "webhook", "cron", "run":
		return connector.Output{Value: params["input"]}, nil
	default:
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindUnknownOperation, "core: unknown operation "+operationID)
	}
}
