package builtin

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fluxgraph/engine/internal/domain"
)

func TestCacheKey_Deterministic(t *testing.T) {
	a := domain.LLMValue{Prompt: "hi", Model: "gpt-4o", Temperature: 0.2}
	b := domain.LLMValue{Prompt: "hi", Model: "gpt-4o", Temperature: 0.2}
	c := domain.LLMValue{Prompt: "bye", Model: "gpt-4o", Temperature: 0.2}

	if cacheKey(a) != cacheKey(b) {
		t.Fatalf("expected identical values to hash identically")
	}
	if cacheKey(a) == cacheKey(c) {
		t.Fatalf("expected different prompts to hash differently")
	}
}

func TestClassifyOpenAIError_ServerError(t *testing.T) {
	err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"})
	var cerr *domain.ConnectorError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *domain.ConnectorError, got %T", err)
	}
	if cerr.Kind != domain.ErrorKindProvider5xx || !cerr.Retryable {
		t.Fatalf("expected retryable provider_5xx, got %+v", cerr)
	}
}

func TestClassifyOpenAIError_RateLimited(t *testing.T) {
	err := classifyOpenAIError(&openai.APIError{HTTPStatusCode: 429, Message: "slow down"})
	var cerr *domain.ConnectorError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *domain.ConnectorError, got %T", err)
	}
	if cerr.Kind != domain.ErrorKindRateLimited {
		t.Fatalf("expected rate_limited, got %s", cerr.Kind)
	}
}

func TestClassifyOpenAIError_Transport(t *testing.T) {
	err := classifyOpenAIError(errors.New("dial tcp: timeout"))
	var cerr *domain.ConnectorError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *domain.ConnectorError, got %T", err)
	}
	if cerr.Kind != domain.ErrorKindNetworkTimeout {
		t.Fatalf("expected network_timeout, got %s", cerr.Kind)
	}
}
