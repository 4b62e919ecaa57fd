package builtin

import (
	"time"

	"github.com/fluxgraph/engine/internal/connector"
)

// Options configures the builtin registration.
type Options struct {
	HTTPTimeout     time.Duration
	OpenAIAPIKey    string
	LLMCacheEntries int
}

// Register registers every builtin connector app (core, http, transform,
// condition, llm) with reg. Call this once at process start, before the
// capability index's catalog is used to resolve handles against it.
func Register(reg *connector.Registry, opts Options) {
	reg.Register("core", NewCoreInvoker())
	reg.Register("http", NewHTTPInvoker(opts.HTTPTimeout))
	reg.Register("transform", NewTransformInvoker())
	reg.Register("condition", NewConditionInvoker())
	reg.Register("llm", NewLLMInvoker(opts.OpenAIAPIKey, opts.LLMCacheEntries))
}
