package builtin

import (
	"context"

	"github.com/expr-lang/expr"

	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/connector/config"
	"github.com/fluxgraph/engine/internal/domain"
)

// ConditionInvoker implements condition.branch: it evaluates the node's
// boolean guard expression against params["input"] and returns a
// "branch" of "true" or "false", which the dispatcher uses to pick which
// outgoing sourceHandle to schedule.
type ConditionInvoker struct{}

// NewConditionInvoker returns a ConditionInvoker.
func NewConditionInvoker() *ConditionInvoker {
	return &ConditionInvoker{}
}

func (inv *ConditionInvoker) Invoke(_ context.Context, operationID string, params map[string]any, _ domain.Credentials) (connector.Output, error) {
	if operationID != "branch" {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindUnknownOperation, "condition: unknown operation "+operationID)
	}

	cfg, err := config.ParseConfig[config.ConditionConfig](params)
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
	}

	env := map[string]any{"input": params["input"]}
	program, err := expr.Compile(cfg.Expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "compiling condition: "+err.Error())
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "evaluating condition: "+err.Error())
	}

	branch, ok := result.(bool)
	if !ok {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "condition expression did not evaluate to a boolean")
	}

	return connector.Output{Value: map[string]any{"branch": branchLabel(branch)}}, nil
}

func branchLabel(branch bool) string {
	if branch {
		return "true"
	}
	return "false"
}
