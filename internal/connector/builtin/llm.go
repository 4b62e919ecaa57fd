package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/domain"
)

// LLMInvoker resolves llm(...) param values and implements the llm.complete
// node operation against the OpenAI chat-completions API. The same
// resolve-and-cache path serves both: a node whose role is entirely "call
// an LLM" and a param embedded as an llm(...) value inside another node's
// params resolve through Resolve.
type LLMInvoker struct {
	client *openai.Client
	cache  *responseCache
}

// NewLLMInvoker returns an LLMInvoker backed by the OpenAI API, with an
// LRU response cache of the given capacity (0 uses a sensible default).
func NewLLMInvoker(apiKey string, cacheCapacity int) *LLMInvoker {
	return &LLMInvoker{
		client: openai.NewClient(apiKey),
		cache:  newResponseCache(cacheCapacity),
	}
}

func (inv *LLMInvoker) Invoke(ctx context.Context, operationID string, params map[string]any, _ domain.Credentials) (connector.Output, error) {
	if operationID != "complete" {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindUnknownOperation, "llm: unknown operation "+operationID)
	}

	v := domain.LLMValue{
		Prompt:      stringParam(params, "prompt"),
		Model:       stringParam(params, "model"),
		System:      stringParam(params, "system"),
		Temperature: floatParam(params, "temperature"),
		MaxTokens:   intParam(params, "max_tokens"),
		CacheTTLSec: intParam(params, "cache_ttl_sec"),
	}
	if v.Prompt == "" || v.Model == "" {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "llm.complete requires prompt and model")
	}

	content, err := inv.Resolve(ctx, v)
	if err != nil {
		return connector.Output{}, err
	}
	return connector.Output{Value: map[string]any{"content": content}}, nil
}

// Resolve calls the OpenAI chat-completions API for v, or returns a cached
// response when within v.CacheTTLSec of a prior identical call. Errors are
// classified per spec section 7: provider outages are retryable,
// malformed requests are not.
func (inv *LLMInvoker) Resolve(ctx context.Context, v domain.LLMValue) (string, error) {
	key := cacheKey(v)
	if cached, ok := inv.cache.get(key); ok {
		return cached.(string), nil
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if v.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: v.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: v.Prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       v.Model,
		Messages:    messages,
		Temperature: float32(v.Temperature),
	}
	if v.MaxTokens > 0 {
		req.MaxCompletionTokens = v.MaxTokens
	}

	resp, err := inv.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewConnectorError(domain.ErrorKindProvider5xx, "llm provider returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if v.CacheTTLSec > 0 {
		inv.cache.put(key, content, time.Duration(v.CacheTTLSec)*time.Second)
	}
	return content, nil
}

// classifyOpenAIError maps a go-openai transport/API error into the
// dispatcher's retry taxonomy. go-openai wraps HTTP-layer failures in
// *openai.APIError when the provider responds with an error body; anything
// else is a transport-level timeout.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode >= 500:
			return domain.NewConnectorError(domain.ErrorKindProvider5xx, apiErr.Message)
		case apiErr.HTTPStatusCode == 429:
			return domain.NewConnectorError(domain.ErrorKindRateLimited, apiErr.Message)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return domain.NewConnectorError(domain.ErrorKindAuthExpired, apiErr.Message)
		default:
			return domain.NewConnectorError(domain.ErrorKindProvider4xx, apiErr.Message)
		}
	}
	return domain.NewConnectorError(domain.ErrorKindNetworkTimeout, "llm provider call failed: "+err.Error())
}

// cacheKey is (prompt, model, system, temperature) hashed, standing in for
// spec's "upstream-snapshot-hash" component since the dispatcher has no
// upstream artifact snapshot identity to fold in at this layer.
func cacheKey(v domain.LLMValue) string {
	h := sha256.New()
	h.Write([]byte(v.Model))
	h.Write([]byte{0})
	h.Write([]byte(v.System))
	h.Write([]byte{0})
	h.Write([]byte(v.Prompt))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(v.Temperature, 'f', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
