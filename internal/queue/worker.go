package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxQueueAttempts bounds how many times a run is redelivered after its
// processor returns an error (a run-level failure — e.g. the database was
// unreachable — not a node-level failure, which the dispatcher's own retry
// policy already handles and which always ends in Ack).
const maxQueueAttempts = 5

// Processor executes one queued run to completion. A nil error means the
// worker should Ack the entry regardless of the run's terminal status
// (success, failure and cancellation are all valid outcomes the dispatcher
// already recorded); a non-nil error means processing itself never
// completed and the entry should be redelivered.
type Processor interface {
	Process(ctx context.Context, runID string, attempt int) error
}

// WorkerPool runs a fixed number of goroutines that block-pop entries off
// a DurableQueue and hand each to a Processor, heartbeating under
// RoleExecution so HealthProbe/Admitter see a live execution worker.
// Grounded on the pack's generic worker-pool shape (dequeue-mark-process-
// complete/fail, N workers sharing one queue), adapted to this package's
// Entry/Ack/Requeue/SweepExpired API.
type WorkerPool struct {
	queue      *DurableQueue
	heartbeats *HeartbeatRegistry
	processor  Processor
	count      int
	popTimeout time.Duration
	visibility time.Duration
	sweepEvery time.Duration
	logger     *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorkerPool builds a pool of count workers. popTimeout bounds how long
// each BLPOP call waits before looping to check for shutdown; visibility is
// how long a popped entry stays invisible to SweepExpired before being
// considered abandoned.
func NewWorkerPool(q *DurableQueue, heartbeats *HeartbeatRegistry, processor Processor, count int, popTimeout, visibility time.Duration, logger *slog.Logger) *WorkerPool {
	if count <= 0 {
		count = 1
	}
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		queue:      q,
		heartbeats: heartbeats,
		processor:  processor,
		count:      count,
		popTimeout: popTimeout,
		visibility: visibility,
		sweepEvery: visibility,
		logger:     logger.With("component", "queue.worker"),
		stop:       make(chan struct{}),
	}
}

// Start launches the pool's worker goroutines and a background sweep
// goroutine for abandoned entries. Returns immediately.
func (p *WorkerPool) Start() {
	for i := 0; i < p.count; i++ {
		workerID := workerIDFor(i)
		p.wg.Add(1)
		go p.run(workerID)
	}
	p.wg.Add(1)
	go p.sweep()
}

// Stop signals every worker to exit after its current iteration and blocks
// until they have.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *WorkerPool) run(workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if p.heartbeats != nil {
			p.heartbeats.Beat(workerID, RoleExecution)
		}

		entry, err := p.queue.Pop(context.Background(), p.popTimeout, p.visibility)
		if err != nil {
			p.logger.Error("pop failed", "worker", workerID, "error", err)
			continue
		}
		if entry == nil {
			continue
		}

		p.process(workerID, *entry)
	}
}

func (p *WorkerPool) process(workerID string, entry Entry) {
	logger := p.logger.With("worker", workerID, "runId", entry.RunID, "attempt", entry.Attempt)
	logger.Info("processing run")

	ctx := context.Background()
	err := p.processor.Process(ctx, entry.RunID, entry.Attempt)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, entry); ackErr != nil {
			logger.Error("ack failed", "error", ackErr)
		}
		return
	}

	logger.Error("processing failed", "error", err)
	if entry.Attempt >= maxQueueAttempts {
		logger.Error("dropping run: max attempts exceeded")
		if ackErr := p.queue.Ack(ctx, entry); ackErr != nil {
			logger.Error("ack after drop failed", "error", ackErr)
		}
		return
	}

	entry.Attempt++
	if reqErr := p.queue.Requeue(ctx, entry); reqErr != nil {
		logger.Error("requeue failed", "error", reqErr)
	}
}

// sweep periodically requeues entries whose visibility deadline passed
// without an Ack — the worker that popped them died or hung.
func (p *WorkerPool) sweep() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			expired, err := p.queue.SweepExpired(ctx)
			if err != nil {
				p.logger.Error("sweep failed", "error", err)
				continue
			}
			for _, entry := range expired {
				entry.Attempt++
				if err := p.queue.Requeue(ctx, entry); err != nil {
					p.logger.Error("requeue expired entry failed", "runId", entry.RunID, "error", err)
				}
			}
		}
	}
}

func workerIDFor(i int) string {
	return fmt.Sprintf("engine-worker-%d", i)
}
