package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionInvoker_Branch(t *testing.T) {
	inv := NewConditionInvoker()

	out, err := inv.Invoke(context.Background(), "branch", map[string]any{
		"expression": "input.score >= 80",
		"input":      map[string]any{"score": 85},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"branch": "true"}, out.Value)

	out, err = inv.Invoke(context.Background(), "branch", map[string]any{
		"expression": "input.score >= 80",
		"input":      map[string]any{"score": 50},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"branch": "false"}, out.Value)
}

func TestConditionInvoker_NonBooleanExpression(t *testing.T) {
	inv := NewConditionInvoker()

	_, err := inv.Invoke(context.Background(), "branch", map[string]any{
		"expression": "input.score",
		"input":      map[string]any{"score": 50},
	}, nil)
	assert.Error(t, err)
}

func TestConditionInvoker_UnknownOperation(t *testing.T) {
	inv := NewConditionInvoker()

	_, err := inv.Invoke(context.Background(), "loop", map[string]any{"expression": "true"}, nil)
	assert.Error(t, err)
}
