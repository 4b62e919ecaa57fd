package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxgraph/engine/internal/dispatch"
	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/eventstream"
	"github.com/fluxgraph/engine/internal/queue"
)

var _ queue.Processor = (*Operations)(nil)

// eventWriterQueueDepth bounds the persistent event writer's internal
// channel for a queued run, matching the NDJSON consumer's default live
// buffer from config.DispatchConfig.EventBufferSize's intent but sized for
// the durable (never-dropped) leg instead of the droppable one.
const eventWriterQueueDepth = 4096

// Process loads a run admitted by queue.Admitter.Enqueue and its
// published revision's graph, dispatches it, persists every event and
// node-execution record as they arrive, and marks the run's terminal
// status. It is the Processor a queue.WorkerPool calls for every entry it
// pops off the durable queue; attempt is the queue redelivery count, not
// the dispatcher's own per-node attempt counter.
func (o *Operations) Process(ctx context.Context, runID string, attempt int) error {
	run, err := o.Runs.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		o.Logger.Warn("skipping already-terminal run", "runId", runID, "status", run.Status)
		return nil
	}

	revision, err := o.Revisions.GetRevision(ctx, run.RevisionID)
	if err != nil {
		return fmt.Errorf("load revision %s for run %s: %w", run.RevisionID, runID, err)
	}

	if err := o.Runs.UpdateRunStatus(ctx, run.ID, domain.RunStatusRunning); err != nil {
		o.Logger.Error("failed to mark run running", "runId", runID, "error", err)
	}

	writer := eventstream.NewPersistentWriter(o.Events, eventWriterQueueDepth, o.Logger)
	defer writer.Close()

	stream := eventstream.New(runID, writer, eventstream.WithLogger(o.Logger))
	if o.Streams != nil {
		o.Streams.Register(runID, stream)
		defer o.Streams.Unregister(runID)
	}
	defer stream.Close()

	tracker := newNodeExecTracker(runID, o.NodeExecutions, o.Logger)

	emit := func(event domain.Event) {
		stream.Publish(event)
		tracker.handle(ctx, event)
	}

	status, runErr := o.Dispatcher.Run(ctx, run, revision.Graph, dispatch.DefaultOptions(), emit)

	if o.Admitter != nil {
		o.Admitter.ReleaseConnectorSlot(ctx, run)
	}

	if updateErr := o.Runs.UpdateRunStatus(ctx, run.ID, status); updateErr != nil {
		o.Logger.Error("failed to persist terminal run status", "runId", runID, "status", status, "error", updateErr)
	}

	if runErr != nil {
		return fmt.Errorf("dispatch run %s (queue attempt %d): %w", runID, attempt, runErr)
	}
	o.Logger.Info("run processed", "runId", runID, "status", status)
	return nil
}

// nodeExecTracker rebuilds per-node domain.NodeExecution records from the
// dispatcher's event stream and persists each once its node reaches a
// terminal event. The dispatcher itself holds the authoritative execution
// state internally (runState.executions) but never exposes it; this is the
// caller-side mirror that turns events back into rows, the same relationship
// PersistentWriter has to raw domain.Event values.
type nodeExecTracker struct {
	runID  string
	repo   nodeExecutionSaver
	logger interface {
		Error(msg string, args ...any)
	}
	inFlight map[string]*domain.NodeExecution
}

type nodeExecutionSaver interface {
	SaveNodeExecution(ctx context.Context, ne *domain.NodeExecution) error
}

func newNodeExecTracker(runID string, repo nodeExecutionSaver, logger interface {
	Error(msg string, args ...any)
}) *nodeExecTracker {
	return &nodeExecTracker{
		runID:    runID,
		repo:     repo,
		logger:   logger,
		inFlight: make(map[string]*domain.NodeExecution),
	}
}

func (t *nodeExecTracker) handle(ctx context.Context, event domain.Event) {
	if event.NodeID == "" {
		return
	}

	switch event.Type {
	case domain.EventNodeStart:
		t.inFlight[event.NodeID] = &domain.NodeExecution{
			RunID:     t.runID,
			NodeID:    event.NodeID,
			Status:    domain.NodeExecRunning,
			StartedAt: event.Timestamp,
		}

	case domain.EventNodeAttempt:
		exec := t.execFor(event)
		exec.Attempt = event.Attempt

	case domain.EventNodeComplete:
		exec := t.execFor(event)
		exec.Attempt = event.Attempt
		exec.Status = domain.NodeExecSucceeded
		exec.Output = event.Payload["result"]
		if diag, ok := event.Payload["diagnostics"].(domain.Diagnostics); ok {
			exec.Diagnostics = diag
		}
		if finishedAt, ok := event.Payload["finishedAt"].(*time.Time); ok {
			exec.FinishedAt = finishedAt
		} else {
			now := event.Timestamp
			exec.FinishedAt = &now
		}
		t.save(ctx, event.NodeID, exec)

	case domain.EventNodeError:
		exec := t.execFor(event)
		exec.Attempt = event.Attempt
		exec.Status = domain.NodeExecFailed
		if kind, ok := event.Payload["errorKind"].(domain.ErrorKind); ok {
			exec.ErrorKind = kind
		}
		if msg, ok := event.Payload["message"].(string); ok {
			exec.ErrorMessage = msg
		}
		now := event.Timestamp
		exec.FinishedAt = &now
		t.save(ctx, event.NodeID, exec)

	case domain.EventNodeSkip:
		exec := t.execFor(event)
		exec.Status = domain.NodeExecSkipped
		now := event.Timestamp
		exec.FinishedAt = &now
		t.save(ctx, event.NodeID, exec)
	}
}

func (t *nodeExecTracker) execFor(event domain.Event) *domain.NodeExecution {
	exec, ok := t.inFlight[event.NodeID]
	if !ok {
		exec = &domain.NodeExecution{
			RunID:     t.runID,
			NodeID:    event.NodeID,
			Status:    domain.NodeExecRunning,
			StartedAt: event.Timestamp,
		}
		t.inFlight[event.NodeID] = exec
	}
	return exec
}

func (t *nodeExecTracker) save(ctx context.Context, nodeID string, exec *domain.NodeExecution) {
	delete(t.inFlight, nodeID)
	if err := t.repo.SaveNodeExecution(ctx, exec); err != nil {
		t.logger.Error("failed to persist node execution", "runId", t.runID, "nodeId", nodeID, "error", err)
	}
}
