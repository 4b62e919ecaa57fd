package domain

import "encoding/json"

// ValueKind tags the closed set of parameter value variants a Node's params
// can hold.
type ValueKind string

const (
	ValueKindStatic ValueKind = "static"
	ValueKindRef    ValueKind = "ref"
	ValueKindLLM    ValueKind = "llm"
)

// Value is the exhaustive sum type for a node parameter: a literal, a
// reference into another node's artifact, or an LLM-resolved value. Kind()
// names the variant for the wire format; consumers type-switch on the
// concrete variant types.
type Value interface {
	Kind() ValueKind
}

// StaticValue is a literal parameter value, taken as-is.
type StaticValue struct {
	V any `json:"value"`
}

func (StaticValue) Kind() ValueKind { return ValueKindStatic }

// RefValue resolves to another node's artifact at dispatch time, following
// a dotted/bracket Path such as "foo.bar[0].baz" (see internal/refpath).
type RefValue struct {
	NodeID string `json:"nodeId"`
	Path   string `json:"path"`
}

func (RefValue) Kind() ValueKind { return ValueKindRef }

// LLMValue is resolved by calling an LLM with Prompt (and System, if set)
// as given; no upstream payload summary is added to the prompt. If
// CacheTTLSec > 0, the resolution is cached for that long, keyed on (model,
// system, prompt, temperature); the key does not include any upstream
// snapshot.
type LLMValue struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	Provider    string   `json:"provider"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"maxTokens"`
	CacheTTLSec int      `json:"cacheTtlSec"`
	JSONSchema  any      `json:"jsonSchema,omitempty"`
	System      string   `json:"system,omitempty"`
}

func (LLMValue) Kind() ValueKind { return ValueKindLLM }

// rawValue is the wire shape persisted for a Value: a kind discriminator
// plus the variant's own fields flattened alongside it.
type rawValue struct {
	Kind        ValueKind `json:"kind"`
	V           any       `json:"value,omitempty"`
	NodeID      string    `json:"nodeId,omitempty"`
	Path        string    `json:"path,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	CacheTTLSec int       `json:"cacheTtlSec,omitempty"`
	JSONSchema  any       `json:"jsonSchema,omitempty"`
	System      string    `json:"system,omitempty"`
}

// MarshalValue serializes a Value to its tagged wire form.
func MarshalValue(v Value) ([]byte, error) {
	switch t := v.(type) {
	case StaticValue:
		return json.Marshal(rawValue{Kind: ValueKindStatic, V: t.V})
	case RefValue:
		return json.Marshal(rawValue{Kind: ValueKindRef, NodeID: t.NodeID, Path: t.Path})
	case LLMValue:
		return json.Marshal(rawValue{
			Kind: ValueKindLLM, Prompt: t.Prompt, Model: t.Model, Provider: t.Provider,
			Temperature: t.Temperature, MaxTokens: t.MaxTokens, CacheTTLSec: t.CacheTTLSec,
			JSONSchema: t.JSONSchema, System: t.System,
		})
	default:
		return nil, &ValidationError{Field: "value", Message: "unknown value kind"}
	}
}

// UnmarshalValue parses a tagged wire form back into its concrete Value
// variant. Missing/unrecognized kind defaults to static with the raw value
// payload, matching the normalizer's "never fail" contract for malformed
// input — the validator, not the wire decoder, is responsible for flagging
// problems.
func UnmarshalValue(data []byte) (Value, error) {
	var raw rawValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	switch raw.Kind {
	case ValueKindRef:
		return RefValue{NodeID: raw.NodeID, Path: raw.Path}, nil
	case ValueKindLLM:
		return LLMValue{
			Prompt: raw.Prompt, Model: raw.Model, Provider: raw.Provider,
			Temperature: raw.Temperature, MaxTokens: raw.MaxTokens, CacheTTLSec: raw.CacheTTLSec,
			JSONSchema: raw.JSONSchema, System: raw.System,
		}, nil
	default:
		return StaticValue{V: raw.V}, nil
	}
}
