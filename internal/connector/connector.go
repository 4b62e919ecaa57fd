// Package connector defines the operation invocation contract (the Go form
// of spec section 6's "connector operation contract") and a registry
// mapping app ids to the Invoker that executes their operations. It is
// grounded on the teacher's Executor/Manager registry shape, generalized
// from config-map execution to the engine's resolved-input contract.
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxgraph/engine/internal/domain"
)

// Output is what a successful operation invocation returns.
type Output struct {
	Value       any
	Logs        []string
	Diagnostics map[string]any
	Stdout      []string
}

// Invoker executes one connector operation. Implementations classify their
// own failures into a *domain.ConnectorError; an unclassified error is
// treated by the dispatcher as ErrorKindFatalInternal.
type Invoker interface {
	Invoke(ctx context.Context, operationID string, params map[string]any, creds domain.Credentials) (Output, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, operationID string, params map[string]any, creds domain.Credentials) (Output, error)

func (f InvokerFunc) Invoke(ctx context.Context, operationID string, params map[string]any, creds domain.Credentials) (Output, error) {
	return f(ctx, operationID, params, creds)
}

// Registry maps an app id to the Invoker that implements its operations.
// One Invoker typically serves every operation of a single app (the
// operationID argument disambiguates between them), mirroring how the
// teacher's executor.Manager registers one executor per node type.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register associates app with invoker, replacing any existing registration.
func (r *Registry) Register(app string, invoker Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[app] = invoker
}

// Get returns the invoker registered for app.
func (r *Registry) Get(app string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[app]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownConnector, app)
	}
	return inv, nil
}

// Has reports whether app has a registered invoker.
func (r *Registry) Has(app string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.invokers[app]
	return ok
}

// List returns every registered app id, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.invokers))
	for app := range r.invokers {
		out = append(out, app)
	}
	sort.Strings(out)
	return out
}

// Unregister removes app's invoker, if any.
func (r *Registry) Unregister(app string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.invokers, app)
}
