package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// HealthState is the durable queue's cached health classification.
type HealthState string

const (
	HealthPass HealthState = "pass"
	HealthWarn HealthState = "warn"
	HealthFail HealthState = "fail"
)

// HealthSnapshot is the cached result of the most recent probe.
type HealthSnapshot struct {
	Status    HealthState
	Message   string
	LatencyMS int64
	CheckedAt time.Time
}

// Pinger is the capability the health probe needs of the durable queue's
// backing store. cache.RedisCache.Health satisfies it.
type Pinger interface {
	Health(ctx context.Context) error
}

// warnThreshold is the round-trip latency above which a successful ping is
// still downgraded to HealthWarn rather than HealthPass.
const warnThreshold = 200 * time.Millisecond

// HealthProbe pings the durable queue on an interval and caches the
// result, per spec section 4.7. Admission reads the cached snapshot
// rather than probing inline, so a slow queue never adds latency to
// enqueue calls.
type HealthProbe struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	snapshot atomic.Pointer[HealthSnapshot]
}

// NewHealthProbe builds a probe with an initial HealthFail snapshot (a
// queue that has never been probed is not yet known-good).
func NewHealthProbe(pinger Pinger, interval, timeout time.Duration, logger *slog.Logger) *HealthProbe {
	if logger == nil {
		logger = slog.Default()
	}
	p := &HealthProbe{
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "queue.health"),
	}
	p.snapshot.Store(&HealthSnapshot{Status: HealthFail, Message: "not yet probed", CheckedAt: time.Time{}})
	return p
}

// Run blocks, probing on p.interval until ctx is canceled. Intended to run
// in its own goroutine from process startup.
func (p *HealthProbe) Run(ctx context.Context) {
	p.probeOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *HealthProbe) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Health(probeCtx)
	latency := time.Since(start)

	snap := &HealthSnapshot{LatencyMS: latency.Milliseconds(), CheckedAt: time.Now()}
	switch {
	case err != nil:
		snap.Status = HealthFail
		snap.Message = err.Error()
		p.logger.Warn("queue health probe failed", "error", err)
	case latency > warnThreshold:
		snap.Status = HealthWarn
		snap.Message = "round trip above warn threshold"
	default:
		snap.Status = HealthPass
		snap.Message = "ok"
	}
	p.snapshot.Store(snap)
}

// Snapshot returns the most recently cached health result.
func (p *HealthProbe) Snapshot() HealthSnapshot {
	return *p.snapshot.Load()
}

// Admissible reports whether the current snapshot allows admission.
// HealthWarn is treated as passing per spec section 4.7; only HealthFail
// blocks.
func (p *HealthProbe) Admissible() bool {
	return p.Snapshot().Status != HealthFail
}
