// Package service is the operations layer gluing the engine's pure/C1-C8
// components to a host: it turns HTTP-shaped requests into calls against
// the graph normalizer, validator, diff, dispatcher, admission, resolver,
// and trigger manager, and turns their results back into responses the
// REST layer can serialize directly.
package service

import (
	"log/slog"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/dispatch"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/eventstream"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/fluxgraph/engine/internal/resolver"
	"github.com/fluxgraph/engine/internal/trigger"
)

// Operations bundles every collaborator a request handler needs. It holds
// no state of its own beyond these references, so it is safe to share a
// single instance across every HTTP request goroutine.
type Operations struct {
	Workflows      repository.WorkflowRepository
	Revisions      repository.RevisionRepository
	Runs           repository.RunRepository
	NodeExecutions repository.NodeExecutionRepository
	Events         repository.EventRepository
	Triggers       repository.TriggerRepository

	CapIndex   *capability.Index
	Dispatcher *dispatch.Dispatcher
	Admitter   *queue.Admitter
	Health     *queue.HealthProbe
	Heartbeats *queue.HeartbeatRegistry
	Resolver   *resolver.Resolver
	TriggerMgr *trigger.Manager
	Streams    *eventstream.Registry

	Logger *slog.Logger
}

// Config is the constructor input for New, named the same as Operations'
// fields for direct assignment from cmd/server's wiring.
type Config struct {
	Repos repository.Repositories

	CapIndex   *capability.Index
	Dispatcher *dispatch.Dispatcher
	Admitter   *queue.Admitter
	Health     *queue.HealthProbe
	Heartbeats *queue.HeartbeatRegistry
	Resolver   *resolver.Resolver
	TriggerMgr *trigger.Manager
	Streams    *eventstream.Registry

	Logger *slog.Logger
}

// New builds an Operations from cfg. Every repository field is required;
// CapIndex/Dispatcher/Admitter are required for the workflow/execution
// surfaces but Resolver/TriggerMgr/Health/Heartbeats may be nil in tests
// that only exercise a subset of operations.
func New(cfg Config) *Operations {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{
		Workflows:      cfg.Repos.Workflows,
		Revisions:      cfg.Repos.Revisions,
		Runs:           cfg.Repos.Runs,
		NodeExecutions: cfg.Repos.NodeExecutions,
		Events:         cfg.Repos.Events,
		Triggers:       cfg.Repos.Triggers,
		CapIndex:       cfg.CapIndex,
		Dispatcher:     cfg.Dispatcher,
		Admitter:       cfg.Admitter,
		Health:         cfg.Health,
		Heartbeats:     cfg.Heartbeats,
		Resolver:       cfg.Resolver,
		TriggerMgr:     cfg.TriggerMgr,
		Streams:        cfg.Streams,
		Logger:         logger.With("component", "service"),
	}
}
