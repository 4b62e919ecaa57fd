// Package builtin provides the worker fleet's built-in connector
// implementations: http.request, transform.*, condition.branch, and the
// llm param-resolution call.
package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/connector/config"
	"github.com/fluxgraph/engine/internal/domain"
)

// HTTPInvoker implements http.request: a generic outbound HTTP call whose
// response becomes the node's output artifact.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker returns an HTTPInvoker with the given per-request timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}}
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, operationID string, params map[string]any, _ domain.Credentials) (connector.Output, error) {
	if operationID != "request" {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindUnknownOperation, "http: unknown operation "+operationID)
	}

	cfg, err := config.ParseConfig[config.HTTPConfig](params)
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
	}

	var body io.Reader
	if cfg.Body != nil {
		bodyBytes, err := encodeBody(cfg.Body)
		if err != nil {
			return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, err.Error())
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindValidation, "building request: "+err.Error())
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindNetworkTimeout, "request failed: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindNetworkTimeout, "reading response: "+err.Error())
	}

	if resp.StatusCode >= 500 {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindProvider5xx, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return connector.Output{}, domain.NewConnectorError(domain.ErrorKindProvider4xx, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	responseType := cfg.ResponseType
	if responseType == "" {
		responseType = "auto"
	}

	result := map[string]any{
		"status":       resp.StatusCode,
		"headers":      flattenHeader(resp.Header),
		"content_type": contentType,
	}

	if responseType == "binary" || isBinaryContentType(contentType) {
		result["body"] = nil
		result["body_base64"] = base64.StdEncoding.EncodeToString(respBody)
		result["size"] = len(respBody)
	} else {
		var parsed any
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				parsed = string(respBody)
			}
		}
		result["body"] = parsed
	}

	return connector.Output{Value: result}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func isBinaryContentType(contentType string) bool {
	prefixes := []string{"image/", "audio/", "video/", "application/octet-stream", "application/pdf", "application/zip", "application/gzip"}
	for _, p := range prefixes {
		if len(contentType) >= len(p) && contentType[:len(p)] == p {
			return true
		}
	}
	return false
}
