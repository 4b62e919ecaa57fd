package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/google/uuid"
)

// RunRequest is the enqueue surface's input, per spec section 4.7.
type RunRequest struct {
	OrgID        string
	WorkflowID   string
	Environment  domain.Environment
	Trigger      domain.TriggerKind
	InitialInput map[string]any
	ConnectorApp string // the trigger node's app, for the per-connector cap check
}

// Limits bundles the per-organization quota ceilings admission enforces.
// A host injects org-specific overrides; zero values fall back to
// config.QueueConfig's defaults.
type Limits struct {
	ExecutionQuota    int
	UsageQuota        int64
	ConnectorInFlight int
}

// Admitter runs the ordered admission pipeline spec section 4.7 defines
// and, on success, persists a queued run and pushes it to the durable
// queue.
type Admitter struct {
	health      *HealthProbe
	heartbeats  *HeartbeatRegistry
	workflows   repository.WorkflowRepository
	revisions   repository.RevisionRepository
	runs        repository.RunRepository
	quotas      *QuotaManager
	queue       *DurableQueue
	logger      *slog.Logger
	defaultLims Limits
}

// NewAdmitter wires an Admitter from its collaborators.
func NewAdmitter(
	health *HealthProbe,
	heartbeats *HeartbeatRegistry,
	workflows repository.WorkflowRepository,
	revisions repository.RevisionRepository,
	runs repository.RunRepository,
	quotas *QuotaManager,
	queue *DurableQueue,
	defaultLimits Limits,
	logger *slog.Logger,
) *Admitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admitter{
		health:      health,
		heartbeats:  heartbeats,
		workflows:   workflows,
		revisions:   revisions,
		runs:        runs,
		quotas:      quotas,
		queue:       queue,
		defaultLims: defaultLimits,
		logger:      logger.With("component", "queue.admission"),
	}
}

// Enqueue runs the six-step admission check from spec section 4.7 in
// order and, on success, persists a queued Run row and pushes it onto the
// durable queue.
func (a *Admitter) Enqueue(ctx context.Context, req RunRequest, limits Limits) (string, error) {
	if limits.ExecutionQuota == 0 {
		limits.ExecutionQuota = a.defaultLims.ExecutionQuota
	}
	if limits.UsageQuota == 0 {
		limits.UsageQuota = a.defaultLims.UsageQuota
	}
	if limits.ConnectorInFlight == 0 {
		limits.ConnectorInFlight = a.defaultLims.ConnectorInFlight
	}

	// 1. Queue health.
	if !a.health.Admissible() {
		return "", errQueueUnavailable(a.health.Snapshot().Message)
	}
	summary := a.heartbeats.Summary()
	if !summary.HasExecutionWorker {
		return "", errQueueUnavailable("no healthy execution worker")
	}

	// 2. Workflow exists and is publishable.
	env := req.Environment
	if env == "" {
		env = domain.EnvironmentProduction
	}
	wf, err := a.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil || wf == nil {
		return "", errWorkflowNotFound(req.WorkflowID)
	}
	revision, err := a.revisions.GetPublished(ctx, req.WorkflowID, env)
	if err != nil || revision == nil {
		return "", errWorkflowNotFound(req.WorkflowID)
	}

	// 3. Organization execution quota.
	exceeded, resetAt, err := a.quotas.CheckAndIncrementExecution(ctx, req.OrgID, limits.ExecutionQuota)
	if err != nil {
		return "", fmt.Errorf("check execution quota: %w", err)
	}
	if exceeded {
		a.quotas.RollbackExecution(ctx, req.OrgID)
		return "", errExecutionQuotaExceeded(resetAt)
	}

	// 4. Per-connector in-flight cap.
	if req.ConnectorApp != "" {
		acquired, err := a.quotas.AcquireInFlight(ctx, req.OrgID, req.ConnectorApp, limits.ConnectorInFlight)
		if err != nil {
			a.quotas.RollbackExecution(ctx, req.OrgID)
			return "", fmt.Errorf("check connector concurrency: %w", err)
		}
		if !acquired {
			a.quotas.RollbackExecution(ctx, req.OrgID)
			return "", errConnectorConcurrencyExceeded(req.ConnectorApp)
		}
		// The in-flight slot is released through ReleaseConnectorSlot
		// once the run's dispatch returns, not here; Enqueue only
		// reserves it.
	}

	// 5. Cross-cutting usage quotas (one call count per enqueue; token
	// quotas are metered by the dispatcher as connector calls complete).
	usageExceeded, err := a.quotas.CheckAndIncrementUsage(ctx, req.OrgID, "apiCalls", 1, limits.UsageQuota)
	if err != nil {
		a.quotas.RollbackExecution(ctx, req.OrgID)
		if req.ConnectorApp != "" {
			a.quotas.ReleaseInFlight(ctx, req.OrgID, req.ConnectorApp)
		}
		return "", fmt.Errorf("check usage quota: %w", err)
	}
	if usageExceeded {
		a.quotas.RollbackExecution(ctx, req.OrgID)
		if req.ConnectorApp != "" {
			a.quotas.ReleaseInFlight(ctx, req.OrgID, req.ConnectorApp)
		}
		return "", errUsageQuotaExceeded("apiCalls")
	}

	// 6. Persist and enqueue.
	runID := uuid.NewString()
	run := &domain.Run{
		ID:            runID,
		WorkflowID:    req.WorkflowID,
		RevisionID:    revision.ID,
		OrgID:         req.OrgID,
		Trigger:       req.Trigger,
		InitialInput:  req.InitialInput,
		ConnectorApp:  req.ConnectorApp,
		Status:        domain.RunStatusQueued,
		CorrelationID: uuid.NewString(),
		StartedAt:     time.Now(),
	}
	if err := a.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("persist queued run: %w", err)
	}

	entry := Entry{RunID: runID, Attempt: 1, EnqueuedAt: time.Now()}
	if err := a.queue.Push(ctx, entry); err != nil {
		return "", fmt.Errorf("push run to queue: %w", err)
	}

	a.logger.Info("run admitted", "runId", runID, "workflowId", req.WorkflowID, "orgId", req.OrgID)
	return runID, nil
}

// ReleaseConnectorSlot returns the per-connector in-flight slot Enqueue's
// step 4 reserved for run. The worker that finishes dispatching run calls
// this once, regardless of the run's terminal status; a no-op if run never
// named a triggering connector.
func (a *Admitter) ReleaseConnectorSlot(ctx context.Context, run *domain.Run) {
	if run.ConnectorApp == "" {
		return
	}
	a.quotas.ReleaseInFlight(ctx, run.OrgID, run.ConnectorApp)
}
