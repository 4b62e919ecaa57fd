package dispatch

import (
	"math"
	"math/rand"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
)

// RetryPolicy implements the backoff schedule of spec section 4.5: base
// 500ms, factor 2, jitter +/-20%, capped at 30s, up to MaxAttempts total
// tries (including the first).
type RetryPolicy struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Jitter      float64
	MaxAttempts int
}

// NewRetryPolicy returns the default backoff shape with maxAttempts
// substituted from the connector's capability handle (or the dispatch
// default when the handle carries none).
func NewRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryPolicy{
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: maxAttempts,
	}
}

// ShouldRetry reports whether attempt (1-indexed, the attempt that just
// failed) should be followed by another, given the error's kind.
func (p RetryPolicy) ShouldRetry(attempt int, kind domain.ErrorKind) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return kind.Retryable()
}

// Delay returns the backoff delay before the given attempt number (the
// attempt about to be made, 2-indexed onward), jittered by +/-Jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-2))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	jitterRange := raw * p.Jitter
	jittered := raw + (rand.Float64()*2-1)*jitterRange
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
