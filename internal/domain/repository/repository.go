// Package repository defines the persistence interfaces the engine requires
// of its host, per spec section 6 ("External interfaces"). Concrete
// implementations live in internal/infrastructure/storage (bun/Postgres)
// and internal/infrastructure/storage/memory (in-process, for tests).
package repository

import (
	"context"

	"github.com/fluxgraph/engine/internal/domain"
)

// WorkflowRepository persists draft workflows.
type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context, limit, offset int) ([]*domain.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// RevisionRepository persists immutable published revisions.
type RevisionRepository interface {
	// PublishRevision inserts a new revision, replacing the previously
	// published revision for the same workflow+environment pair as the one
	// diffWorkflow/GetPublished resolves to going forward.
	PublishRevision(ctx context.Context, rev *domain.Revision) error

	// GetPublished returns the most recently published revision for a
	// workflow in the given environment, or ErrRevisionNotFound.
	GetPublished(ctx context.Context, workflowID string, env domain.Environment) (*domain.Revision, error)

	GetRevision(ctx context.Context, id string) (*domain.Revision, error)
	ListRevisions(ctx context.Context, workflowID string) ([]*domain.Revision, error)
}

// RunRepository persists run rows and their terminal state.
type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, workflowID string, limit, offset int) ([]*domain.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error
}

// NodeExecutionRepository persists per-attempt node execution records.
type NodeExecutionRepository interface {
	SaveNodeExecution(ctx context.Context, ne *domain.NodeExecution) error
	GetNodeExecutions(ctx context.Context, runID string) ([]*domain.NodeExecution, error)
}

// TriggerRepository persists cron/interval/event/webhook trigger bindings
// for internal/trigger's scheduler and listener managers.
type TriggerRepository interface {
	SaveTrigger(ctx context.Context, t *domain.Trigger) error
	GetTrigger(ctx context.Context, id string) (*domain.Trigger, error)
	ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*domain.Trigger, error)
	ListEnabledTriggers(ctx context.Context) ([]*domain.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	// MarkTriggered stamps LastTriggeredAt on a successful firing.
	MarkTriggered(ctx context.Context, id string) error
}

// EventRepository is the persistent, idempotent event log (the durable
// consumer side of C6's fan-out).
type EventRepository interface {
	// AppendEvent stores event unless an event with the same
	// (runId, nodeId, attempt, type) was already stored, per spec section
	// 4.6's "idempotent on replay" requirement.
	AppendEvent(ctx context.Context, event *domain.Event) error

	ListEvents(ctx context.Context, runID string) ([]*domain.Event, error)
}

// Repositories bundles every persistence interface the engine requires of
// its host, for convenient injection into the service layer.
type Repositories struct {
	Workflows      WorkflowRepository
	Revisions      RevisionRepository
	Runs           RunRepository
	NodeExecutions NodeExecutionRepository
	Events         EventRepository
	Triggers       TriggerRepository
}
