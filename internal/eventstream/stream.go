// Package eventstream implements the run event stream (C6): a single
// producer (the dispatcher) fanned out to any number of live, bounded and
// droppable subscribers (the HTTP/NDJSON consumer) plus one durable,
// backpressured persistent writer. Losing a live subscriber's events under
// load is acceptable; losing persisted events is not.
package eventstream

import (
	"log/slog"
	"sync"

	"github.com/fluxgraph/engine/internal/domain"
)

// DefaultLiveBufferSize is the depth of a live subscriber's channel before
// Publish starts dropping events for that subscriber.
const DefaultLiveBufferSize = 256

// Stream is the per-run event fan-out hub. Publish is meant to be called
// from a single goroutine (the run's dispatcher); Subscribe/Unsubscribe are
// safe to call concurrently from any goroutine (HTTP handlers accepting
// new streaming clients).
type Stream struct {
	runID          string
	liveBufferSize int
	logger         *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Event

	writer *PersistentWriter
}

// Option configures a Stream.
type Option func(*Stream)

// WithLiveBufferSize overrides DefaultLiveBufferSize.
func WithLiveBufferSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.liveBufferSize = n
		}
	}
}

// WithLogger attaches a logger; nil falls back to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// New builds a Stream for one run. writer may be nil, in which case events
// are fanned out to live subscribers only and never persisted (useful in
// tests that don't exercise C6's durability half).
func New(runID string, writer *PersistentWriter, opts ...Option) *Stream {
	s := &Stream{
		runID:          runID,
		liveBufferSize: DefaultLiveBufferSize,
		subs:           make(map[int]chan domain.Event),
		writer:         writer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "eventstream", "runId", runID)
	return s
}

// Subscribe registers a new live consumer and returns its receive channel
// plus an unsubscribe function the caller must invoke when done (e.g. the
// HTTP client disconnects).
func (s *Stream) Subscribe() (<-chan domain.Event, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan domain.Event, s.liveBufferSize)
	s.subs[id] = ch
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans event out to every live subscriber (non-blocking; a full
// subscriber buffer drops the event and logs the overflow, per spec
// section 4.6's backpressure rule) and to the persistent writer (blocking:
// the persistent leg is never dropped, so a stuck writer applies
// backpressure to the producer rather than lose history).
func (s *Stream) Publish(event domain.Event) {
	s.mu.Lock()
	subsCopy := make([]chan domain.Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subsCopy = append(subsCopy, ch)
	}
	s.mu.Unlock()

	for _, ch := range subsCopy {
		select {
		case ch <- event:
		default:
			s.logger.Warn("stream-lagged: live subscriber buffer full, dropping event",
				"eventType", event.Type, "nodeId", event.NodeID, "attempt", event.Attempt)
			s.recordLagDiagnostic(event)
		}
	}

	if s.writer != nil {
		s.writer.Write(event)
	}
}

// recordLagDiagnostic persists a stream-lagged marker alongside the
// dropped event's identity. EventType's set is closed per spec section
// 4.6, so the marker rides on a "summary" event's payload rather than
// inventing a new wire type.
func (s *Stream) recordLagDiagnostic(dropped domain.Event) {
	if s.writer == nil {
		return
	}
	s.writer.Write(domain.Event{
		Type:      domain.EventSummary,
		Timestamp: dropped.Timestamp,
		RunID:     s.runID,
		NodeID:    dropped.NodeID,
		Attempt:   dropped.Attempt,
		Payload: map[string]any{
			"diagnostic":    "stream-lagged",
			"droppedType":   dropped.Type,
			"droppedNodeId": dropped.NodeID,
		},
	})
}

// Close unsubscribes every live consumer, closing their channels.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
