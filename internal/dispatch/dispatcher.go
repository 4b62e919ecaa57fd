package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/validator"
)

// Dispatcher is process-wide: it is safe to call Run concurrently for
// many runs, sharing one connector registry, capability index, and
// per-connector concurrency limiter across all of them.
type Dispatcher struct {
	registry *connector.Registry
	capIndex *capability.Index
	llm      LLMResolver
	limiter  *ConnectorLimiter
	logger   *slog.Logger
}

// New builds a Dispatcher. llm may be nil for graphs that never resolve
// an llm(...) param value.
func New(registry *connector.Registry, capIndex *capability.Index, llm LLMResolver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		capIndex: capIndex,
		llm:      llm,
		limiter:  NewConnectorLimiter(),
		logger:   logger.With("component", "dispatch"),
	}
}

type nodeResult struct {
	nodeID    string
	execution *domain.NodeExecution
	err       error
}

// Run executes run against graph, emitting every event through emit, and
// returns the run's terminal status. Run never mutates run or graph.
func (d *Dispatcher) Run(ctx context.Context, run *domain.Run, graph *domain.Graph, opts Options, emit func(domain.Event)) (domain.RunStatus, error) {
	if res := validator.Validate(graph, d.capIndex, validator.Options{}); !res.Valid() {
		return domain.RunStatusFailed, errors.New("run rejected: revision failed authoritative validation")
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.RunDeadline)
	defer cancel()

	rs := newRunState(graph)
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	sem := make(chan struct{}, maxInFlight)

	emit(domain.Event{Type: domain.EventRunStart, RunID: run.ID, Timestamp: time.Now()})

	results := make(chan nodeResult, len(graph.Nodes))
	active := 0

	start := func(n *domain.Node) {
		rs.status[n.ID] = domain.NodeExecRunning
		emit(domain.Event{Type: domain.EventNodeStart, RunID: run.ID, NodeID: n.ID, Timestamp: time.Now()})
		active++
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- d.runNode(runCtx, run, n, rs, opts, emit)
		}()
	}

	for _, n := range rs.initialReady() {
		start(n)
	}

	var anyFailed bool

loop:
	for active > 0 {
		select {
		case res := <-results:
			active--
			d.apply(run, res, rs, emit, &anyFailed)
			for _, ready := range d.advance(rs) {
				start(ready)
			}
		case <-runCtx.Done():
			d.cancelRemaining(run, rs, emit, runCtx.Err())
			break loop
		}
	}

	status := domain.RunStatusSucceeded
	message := "run completed successfully"
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		status = domain.RunStatusFailed
		message = "run deadline exceeded"
	} else if runCtx.Err() != nil {
		status = domain.RunStatusCanceled
		message = "run canceled"
	} else if anyFailed {
		status = domain.RunStatusFailed
		message = "one or more nodes failed"
	}

	emit(domain.Event{
		Type: domain.EventSummary, RunID: run.ID, Timestamp: time.Now(),
		Payload: map[string]any{"success": status == domain.RunStatusSucceeded, "message": message},
	})
	emit(domain.Event{Type: domain.EventRunEnd, RunID: run.ID, Timestamp: time.Now()})

	return status, nil
}

// apply applies a worker's result to the run's single-writer state and
// emits the node's terminal event.
func (d *Dispatcher) apply(run *domain.Run, res nodeResult, rs *runState, emit func(domain.Event), anyFailed *bool) {
	rs.executions[res.nodeID] = res.execution
	if res.err != nil {
		*anyFailed = true
		rs.status[res.nodeID] = domain.NodeExecFailed
		emit(domain.Event{
			Type: domain.EventNodeError, RunID: run.ID, NodeID: res.nodeID,
			Attempt: res.execution.Attempt, Timestamp: time.Now(),
			Payload: map[string]any{"errorKind": res.execution.ErrorKind, "message": res.execution.ErrorMessage},
		})
	} else {
		rs.status[res.nodeID] = domain.NodeExecSucceeded
		rs.artifacts.Set(res.nodeID, res.execution.Output)
		emit(domain.Event{
			Type: domain.EventNodeComplete, RunID: run.ID, NodeID: res.nodeID,
			Attempt: res.execution.Attempt, Timestamp: time.Now(),
			Payload: map[string]any{
				"result":      res.execution.Output,
				"diagnostics": res.execution.Diagnostics,
				"finishedAt":  res.execution.FinishedAt,
			},
		})
	}
	d.propagateTerminal(run, res.nodeID, rs, emit)
}

// propagateTerminal decrements the pending-dependency count of every
// successor of nodeID now that nodeID is terminal, and recursively marks
// skipped any successor left with no valid incoming path (spec section
// 4.5 step 9: independent branches continue).
func (d *Dispatcher) propagateTerminal(run *domain.Run, nodeID string, rs *runState, emit func(domain.Event)) {
	for _, succID := range rs.successors(nodeID) {
		if rs.pendingDeps[succID] == 0 {
			continue
		}
		rs.pendingDeps[succID]--
		if rs.pendingDeps[succID] > 0 {
			continue
		}
		succNode, err := rs.graph.NodeByID(succID)
		if err != nil {
			continue
		}
		if shouldRun, reason := rs.evaluate(succNode); !shouldRun {
			rs.status[succID] = domain.NodeExecSkipped
			emit(domain.Event{
				Type: domain.EventNodeSkip, RunID: run.ID, NodeID: succID, Timestamp: time.Now(),
				Payload: map[string]any{"reason": reason},
			})
			d.propagateTerminal(run, succID, rs, emit)
		}
	}
}

// advance returns every node whose dependencies just became fully
// terminal and which evaluate() says should run, newly marking them
// pending-to-run. Nodes propagateTerminal already skipped are excluded
// because their status is no longer NodeExecPending.
func (d *Dispatcher) advance(rs *runState) []*domain.Node {
	var ready []*domain.Node
	for _, n := range rs.graph.Nodes {
		if rs.status[n.ID] != domain.NodeExecPending {
			continue
		}
		if rs.pendingDeps[n.ID] != 0 {
			continue
		}
		if shouldRun, _ := rs.evaluate(n); shouldRun {
			ready = append(ready, n)
		}
	}
	return ready
}

// cancelRemaining marks every still-pending-or-running node canceled
// when the run context ends (deadline or explicit cancellation).
func (d *Dispatcher) cancelRemaining(run *domain.Run, rs *runState, emit func(domain.Event), cause error) {
	kind := domain.ErrorKindCancelledByUser
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = domain.ErrorKindRunDeadlineExceeded
	}
	for _, n := range rs.graph.Nodes {
		if terminal(rs.status[n.ID]) {
			continue
		}
		rs.status[n.ID] = domain.NodeExecCanceled
		emit(domain.Event{
			Type: domain.EventNodeError, RunID: run.ID, NodeID: n.ID, Timestamp: time.Now(),
			Payload: map[string]any{"errorKind": kind, "message": cause.Error()},
		})
	}
}

// runNode resolves node's params, invokes its connector operation with
// the retry policy of spec section 4.5 step 6, and returns the outcome.
// It only ever reads rs.artifacts (safe for concurrent access); it never
// touches rs.status/rs.incoming/rs.pendingDeps, which belong solely to
// the dispatcher goroutine.
func (d *Dispatcher) runNode(ctx context.Context, run *domain.Run, node *domain.Node, rs *runState, opts Options, emit func(domain.Event)) nodeResult {
	handle, miss := d.capIndex.Resolve(node.App, node.Operation, capability.RoleAuto)
	exec := &domain.NodeExecution{RunID: run.ID, NodeID: node.ID, StartedAt: time.Now()}

	if handle == nil {
		kind := domain.ErrorKindUnknownOperation
		if miss == capability.MissUnknownApp {
			kind = domain.ErrorKindUnknownConnector
		}
		return d.fail(exec, kind, "dispatch: "+string(miss)+" for "+node.App+"."+node.Operation)
	}

	inv, err := d.registry.Get(node.App)
	if err != nil {
		return d.fail(exec, domain.ErrorKindUnknownConnector, err.Error())
	}

	maxAttempts := handle.Operation.MaxAttemptsDefault
	if maxAttempts <= 0 {
		maxAttempts = opts.DefaultMaxAttempts
	}
	deadline := handle.Operation.DeadlineDefault
	if deadline <= 0 {
		deadline = opts.DefaultOpDeadline
	}
	policy := NewRetryPolicy(maxAttempts)
	exec.MaxAttempts = maxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		exec.Attempt = attempt
		if attempt > 1 {
			select {
			case <-time.After(policy.Delay(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				goto finish
			}
			emit(domain.Event{Type: domain.EventNodeAttempt, RunID: run.ID, NodeID: node.ID, Attempt: attempt, Timestamp: time.Now()})
		}

		output, invokeErr := d.invokeOnce(ctx, node, rs, handle.Operation.MaxConcurrency, deadline, inv)
		if invokeErr == nil {
			now := time.Now()
			exec.Status = domain.NodeExecSucceeded
			exec.Output = output.Value
			exec.Diagnostics = domain.Diagnostics{Logs: output.Logs, Stdout: output.Stdout, Extra: output.Diagnostics}
			exec.FinishedAt = &now
			return nodeResult{nodeID: node.ID, execution: exec}
		}

		lastErr = invokeErr
		kind, retryable := classify(lastErr)
		exec.RetryHistory = append(exec.RetryHistory, domain.RetryAttempt{
			Attempt: attempt, ErrorKind: kind, Message: lastErr.Error(), At: time.Now(),
		})
		exec.ErrorKind = kind
		exec.ErrorMessage = lastErr.Error()
		if !retryable || !policy.ShouldRetry(attempt, kind) {
			break
		}
	}

finish:
	kind, _ := classify(lastErr)
	return d.fail(exec, kind, lastErr.Error())
}

func (d *Dispatcher) fail(exec *domain.NodeExecution, kind domain.ErrorKind, message string) nodeResult {
	now := time.Now()
	exec.Status = domain.NodeExecFailed
	exec.ErrorKind = kind
	exec.ErrorMessage = message
	exec.FinishedAt = &now
	return nodeResult{nodeID: exec.NodeID, execution: exec, err: errors.New(message)}
}

func (d *Dispatcher) invokeOnce(ctx context.Context, node *domain.Node, rs *runState, maxConcurrency int, deadline time.Duration, inv connector.Invoker) (connector.Output, error) {
	params, err := resolveParams(ctx, node, rs.artifacts, d.llm)
	if err != nil {
		return connector.Output{}, err
	}
	if err := d.limiter.Acquire(ctx, node.App, maxConcurrency); err != nil {
		return connector.Output{}, err
	}
	defer d.limiter.Release(node.App, maxConcurrency)

	opCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return inv.Invoke(opCtx, node.Operation, params, node.InlineCreds)
}

// classify maps an error into its ErrorKind and retry eligibility. A
// *domain.ConnectorError carries both explicitly; anything else is
// fatal and not retried.
func classify(err error) (domain.ErrorKind, bool) {
	var cerr *domain.ConnectorError
	if errors.As(err, &cerr) {
		return cerr.Kind, cerr.Retryable
	}
	return domain.ErrorKindFatalInternal, false
}
