package capability

import "time"

// BuiltinCatalog is the capability catalog for the connectors the worker
// fleet implements out of the box: the manual/webhook/cron triggers, the
// http.request action, the transform and condition family, and the llm
// param-resolution surface. A deployment extends this slice with its own
// connectors before calling NewIndex.
func BuiltinCatalog() []Connector {
	return []Connector{
		{
			App: "core", Name: "Core", Category: "core", Lifecycle: LifecycleStable,
			Operations: map[string]Operation{
				"manual": {
					ID: "manual", Role: RoleTrigger, Implemented: true,
					ParamSchema: map[string]any{"type": "object"},
				},
				"webhook": {
					ID: "webhook", Role: RoleTrigger, Implemented: true,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"path": map[string]any{"type": "string"}},
						"required":   []any{"path"},
					},
				},
				"cron": {
					ID: "cron", Role: RoleTrigger, Implemented: true,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"schedule": map[string]any{"type": "string"}},
						"required":   []any{"schedule"},
					},
				},
				"run": {
					ID: "run", Role: RoleAction, Implemented: true,
					ParamSchema: map[string]any{"type": "object"},
				},
			},
		},
		{
			App: "http", Name: "HTTP", Category: "network", Lifecycle: LifecycleStable,
			Operations: map[string]Operation{
				"request": {
					ID: "request", Role: RoleAction, Implemented: true,
					DeadlineDefault: 30 * time.Second, MaxAttemptsDefault: 3, MaxConcurrency: 32,
					ParamSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}},
							"url":     map[string]any{"type": "string"},
							"headers": map[string]any{"type": "object"},
							"body":    map[string]any{},
						},
						"required": []any{"method", "url"},
					},
				},
			},
		},
		{
			App: "transform", Name: "Transform", Category: "data", Lifecycle: LifecycleStable,
			Operations: map[string]Operation{
				"expression": {
					ID: "expression", Role: RoleAction, Implemented: true, MaxConcurrency: 64,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"expression": map[string]any{"type": "string"}},
						"required":   []any{"expression"},
					},
				},
				"jq": {
					ID: "jq", Role: RoleAction, Implemented: true, MaxConcurrency: 64,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"filter": map[string]any{"type": "string"}},
						"required":   []any{"filter"},
					},
				},
				"passthrough": {
					ID: "passthrough", Role: RoleAction, Implemented: true, MaxConcurrency: 64,
					ParamSchema: map[string]any{"type": "object"},
				},
			},
		},
		{
			App: "condition", Name: "Condition", Category: "logic", Lifecycle: LifecycleStable,
			Operations: map[string]Operation{
				"branch": {
					ID: "branch", Role: RoleAction, Implemented: true, MaxConcurrency: 64,
					ParamSchema: map[string]any{
						"type":       "object",
						"properties": map[string]any{"expression": map[string]any{"type": "string"}},
						"required":   []any{"expression"},
					},
				},
			},
		},
		{
			App: "llm", Name: "LLM", Category: "ai", Lifecycle: LifecycleBeta,
			Operations: map[string]Operation{
				"complete": {
					ID: "complete", Role: RoleAction, Implemented: true,
					DeadlineDefault: 60 * time.Second, MaxAttemptsDefault: 3, MaxConcurrency: 8,
					RequiredScopes: []string{"llm:invoke"},
					ParamSchema: map[string]any{
						"type": "object",
						"properties": map[string]any{
							"prompt":      map[string]any{"type": "string"},
							"model":       map[string]any{"type": "string"},
							"temperature": map[string]any{"type": "number"},
						},
						"required": []any{"prompt", "model"},
					},
				},
			},
		},
	}
}
