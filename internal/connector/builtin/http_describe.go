package builtin

import (
	"context"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/resolver"
)

// Describe implements resolver.Describer for http.request by making the
// configured call and inferring structural hints from the response body:
// object keys become columns, the body itself becomes the sample row.
// Describe reuses Invoke directly since a describe call is just a real
// call whose result is inspected rather than passed downstream.
func (inv *HTTPInvoker) Describe(ctx context.Context, operationID string, params map[string]any, creds domain.Credentials) (resolver.DescribeResult, error) {
	out, err := inv.Invoke(ctx, operationID, params, creds)
	if err != nil {
		return resolver.DescribeResult{}, err
	}

	result, ok := out.Value.(map[string]any)
	if !ok {
		return resolver.DescribeResult{}, nil
	}
	body, ok := result["body"]
	if !ok {
		return resolver.DescribeResult{}, nil
	}

	hint := resolver.DescribeResult{}
	switch v := body.(type) {
	case map[string]any:
		hint.SampleRow = v
		hint.Columns = mapKeys(v)
	case []any:
		if len(v) > 0 {
			if row, ok := v[0].(map[string]any); ok {
				hint.SampleRow = row
				hint.Columns = mapKeys(row)
			}
		}
	}
	return hint, nil
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
