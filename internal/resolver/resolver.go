// Package resolver implements the Metadata Resolver (C8): connector
// "describe" calls that enrich a node's metadata with structural hints
// (columns, tabs, a sample row, the output's JSON schema) for the
// Validator (C3) and UI quick-picks. Every call is advisory: failure
// never blocks a run, only surfaces a diagnostic.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
)

// DescribeResult is the structural hint set a connector's describe call
// returns for one node.
type DescribeResult struct {
	Columns      []string       `json:"columns,omitempty"`
	Tabs         []string       `json:"tabs,omitempty"`
	SampleRow    map[string]any `json:"sampleRow,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// Describer is the optional capability an Invoker may implement to serve
// metadata-resolver requests. Connectors with nothing structural to
// report (most of the builtin set) simply don't implement it.
type Describer interface {
	Describe(ctx context.Context, operationID string, params map[string]any, creds domain.Credentials) (DescribeResult, error)
}

// Request is one resolve call: a node's current operation, params, and
// credentials, plus the node id the debounce cache keys on.
type Request struct {
	NodeID      string
	App         string
	Operation   string
	Params      map[string]any
	Credentials domain.Credentials
}

// Diagnostic is the non-fatal record produced when a describe call fails
// or the app has no Describer. It is surfaced to the UI, never to the
// run's control flow.
type Diagnostic struct {
	NodeID  string
	Message string
	At      time.Time
}

// debounceWindow matches spec section 4.8's "identical requests within
// 5s return the cached result."
const debounceWindow = 5 * time.Second

// Resolver resolves describe requests against a connector registry,
// debouncing identical requests through a cache.
type Resolver struct {
	lookupFunc func(app string) (Describer, bool)
	cache      resultCache
	logger     *slog.Logger
}

// resultCache is the storage the debounce cache needs; cache.RedisCache
// satisfies it, and tests substitute an in-memory fake.
type resultCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// New builds a Resolver. lookupFunc resolves an app id to its Describer,
// returning (nil, false) if the app has none; connector.Registry callers
// typically pass a closure doing a type assertion on Registry.Get's
// result.
func New(lookupFunc func(app string) (Describer, bool), cache resultCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		lookupFunc: lookupFunc,
		cache:      cache,
		logger:     logger.With("component", "resolver"),
	}
}

// Resolve runs req against its connector's Describer, honoring the 5s
// debounce cache. It never returns a hard error: a failure or a
// describer-less app produces (nil, diagnostic).
func (r *Resolver) Resolve(ctx context.Context, req Request) (*DescribeResult, *Diagnostic) {
	key := cacheKey(req)

	if cached, ok := r.readCache(ctx, key); ok {
		return cached, nil
	}

	describer, ok := r.lookupFunc(req.App)
	if !ok {
		return nil, &Diagnostic{NodeID: req.NodeID, Message: fmt.Sprintf("%s has no metadata describer", req.App), At: time.Now()}
	}

	result, err := describer.Describe(ctx, req.Operation, req.Params, req.Credentials)
	if err != nil {
		r.logger.Warn("describe call failed", "nodeId", req.NodeID, "app", req.App, "error", err)
		return nil, &Diagnostic{NodeID: req.NodeID, Message: err.Error(), At: time.Now()}
	}

	r.writeCache(ctx, key, result)
	return &result, nil
}

func (r *Resolver) readCache(ctx context.Context, key string) (*DescribeResult, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return nil, false
	}
	var result DescribeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (r *Resolver) writeCache(ctx context.Context, key string, result DescribeResult) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, string(data), debounceWindow); err != nil {
		r.logger.Warn("failed to cache describe result", "error", err)
	}
}

// cacheKey hashes the request's identity (node, app, operation, params),
// so each node has its own cache entries, and a param edit busts it
// immediately rather than waiting out the window.
func cacheKey(req Request) string {
	data, _ := json.Marshal(struct {
		NodeID    string
		App       string
		Operation string
		Params    map[string]any
	}{req.NodeID, req.App, req.Operation, req.Params})
	sum := sha256.Sum256(data)
	return "engine:resolver:" + hex.EncodeToString(sum[:])
}

// MergeInto writes result's hints into node's Metadata/OutputMetadata per
// spec section 4.8: columns/tabs/sample row describe the node's current
// configuration surface (Metadata), while the output schema describes
// what downstream nodes can expect from it (OutputMetadata).
func MergeInto(node *domain.Node, result *DescribeResult) {
	if result == nil {
		return
	}
	if node.Metadata == nil {
		node.Metadata = make(map[string]any)
	}
	if len(result.Columns) > 0 {
		node.Metadata["columns"] = result.Columns
	}
	if len(result.Tabs) > 0 {
		node.Metadata["tabs"] = result.Tabs
	}
	if result.SampleRow != nil {
		node.Metadata["sampleRow"] = result.SampleRow
	}
	if result.OutputSchema != nil {
		if node.OutputMetadata == nil {
			node.OutputMetadata = make(map[string]any)
		}
		node.OutputMetadata["schema"] = result.OutputSchema
	}
}
