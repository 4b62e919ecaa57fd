package builtin

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"

	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/connector/config"
	"github.com/fluxgraph/engine/internal/domain"
)

var errNoJQOutput = errors.New("jq filter produced no output")

// TransformInvoker implements the transform.* family: passthrough,
// expression (expr-lang), and jq (gojq), each operating on params["input"].
type TransformInvoker struct{}

// NewTransformInvoker returns a TransformInvoker.
func NewTransformInvoker() *TransformInvoker {
	return &TransformInvoker{}
}

func (inv *TransformInvoker) Invoke(_ context.Context, operationID string, params map[string]any, _ domain.Credentials) (connector.Output, error) {
	input := params["input"]

	switch operationID {
	case "passthrough":
		return connector.Output{Value: input}, nil

	case "expression":
		cfg, err := config.ParseConfig[config.TransformConfig](params)
		if err != nil {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
		}
		if cfg.Expression == "" {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "expression is required for expression transformation")
		}
		out, err := evalExpression(cfg.Expression, input)
		if err != nil {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
		}
		return connector.Output{Value: out}, nil

	case "jq":
		cfg, err := config.ParseConfig[config.TransformConfig](params)
		if err != nil {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
		}
		if cfg.Filter == "" {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "filter is required for jq transformation")
		}
		out, err := evalJQ(cfg.Filter, input)
		if err != nil {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
		}
		return connector.Output{Value: out}, nil

	default:
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindUnknownOperation, "transform: unknown operation "+operationID)
	}
}

func evalExpression(exprStr string, input any) (any, error) {
	env := map[string]any{"input": input}
	program, err := expr.Compile(exprStr, expr.Env(env))
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

func evalJQ(filterStr string, input any) (any, error) {
	query, err := gojq.Parse(filterStr)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}

	inputData := coerceJQInput(input)

	iter := code.Run(inputData)
	v, ok := iter.Next()
	if !ok {
		return nil, errNoJQOutput
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

func coerceJQInput(input any) any {
	switch v := input.(type) {
	case string:
		var parsed any
		if json.Unmarshal([]byte(v), &parsed) == nil {
			return parsed
		}
		return v
	case []byte:
		var parsed any
		if json.Unmarshal(v, &parsed) == nil {
			return parsed
		}
		return string(v)
	default:
		return v
	}
}
