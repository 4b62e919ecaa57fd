// Package dispatch implements the run dispatcher (C5): a single
// per-run goroutine that computes readiness from the graph's topology,
// fans node evaluations out to a bounded worker pool, and is the sole
// mutator of the run's artifact store and node status map. Workers
// return results over a channel; the dispatcher goroutine applies them.
package dispatch

import "time"

// Options configures one run's dispatch. Zero value is not usable;
// construct via DefaultOptions and override individual fields.
type Options struct {
	// MaxInFlight bounds concurrent node evaluations for this run.
	MaxInFlight int

	// RunDeadline is the wall-clock cap on the whole run. Expiry cancels
	// the run with ErrorKindRunDeadlineExceeded.
	RunDeadline time.Duration

	// DefaultOpDeadline is used for a node whose resolved capability
	// handle carries no DeadlineDefault of its own.
	DefaultOpDeadline time.Duration

	// DefaultMaxAttempts is used for a node whose resolved capability
	// handle carries no MaxAttemptsDefault of its own.
	DefaultMaxAttempts int
}

// DefaultOptions returns the spec's stated defaults: 8 in-flight nodes,
// 15 minute run deadline, 60 second per-operation deadline, 3 attempts.
func DefaultOptions() Options {
	return Options{
		MaxInFlight:        8,
		RunDeadline:        15 * time.Minute,
		DefaultOpDeadline:  60 * time.Second,
		DefaultMaxAttempts: 3,
	}
}
