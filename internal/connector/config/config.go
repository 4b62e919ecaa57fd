// Package config provides typed configuration structs for the builtin
// connector operations. These give the builtin package type safety on top
// of the resolved param map[string]any every Invoker receives.
package config

import (
	"encoding/json"
	"fmt"
)

// HTTPConfig is the resolved parameter set for http.request.
type HTTPConfig struct {
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         any               `json:"body,omitempty"`
	ResponseType string            `json:"response_type,omitempty"` // "auto", "binary", "json", "text"
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	if c.Method == "" {
		return fmt.Errorf("method is required")
	}
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}

	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}
	if !validMethods[c.Method] {
		return fmt.Errorf("invalid HTTP method: %s", c.Method)
	}

	return nil
}

// TransformConfig is the resolved parameter set for transform.*.
type TransformConfig struct {
	Type       string `json:"type"` // "passthrough", "expression", "jq"
	Expression string `json:"expression,omitempty"`
	Filter     string `json:"filter,omitempty"`
}

// Validate validates the Transform configuration.
func (c *TransformConfig) Validate() error {
	validTypes := map[string]bool{"passthrough": true, "expression": true, "jq": true}

	if c.Type == "" {
		c.Type = "passthrough"
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("invalid transformation type: %s", c.Type)
	}

	switch c.Type {
	case "expression":
		if c.Expression == "" {
			return fmt.Errorf("expression is required for expression transformation")
		}
	case "jq":
		if c.Filter == "" {
			return fmt.Errorf("filter is required for jq transformation")
		}
	}

	return nil
}

// ConditionConfig is the resolved parameter set for condition.branch.
type ConditionConfig struct {
	Expression string `json:"expression"`
}

// Validate validates the condition configuration.
func (c *ConditionConfig) Validate() error {
	if c.Expression == "" {
		return fmt.Errorf("expression is required")
	}
	return nil
}

// LLMConfig is the static part of an llm(...) value's configuration; the
// prompt/model/temperature themselves live on domain.LLMValue and are
// merged into this by the caller.
type LLMConfig struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// ParseConfig parses a map[string]any into a typed config struct.
func ParseConfig[T any](cfg map[string]any) (*T, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &result, nil
}

// ToMap converts a typed config struct to map[string]any.
func ToMap(cfg any) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to convert to map: %w", err)
	}

	return result, nil
}
