package eventstream

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
)

// dedupCapacity bounds the in-memory idempotency backstop in front of
// EventRepository.AppendEvent. The repository is the authority on
// idempotency; this is a fast-path that avoids a round trip for the common
// case of a retried Publish seeing the same event twice in a row.
const dedupCapacity = 1024

// PersistentWriter is the durable leg of the event stream: every event
// passed to Write is appended to repository.EventRepository, de-duplicated
// by Event.IdempotencyKey. Writes are serialized through a single
// goroutine so AppendEvent calls for one run are never reordered relative
// to each other.
type PersistentWriter struct {
	events repository.EventRepository
	logger *slog.Logger

	queue chan domain.Event
	done  chan struct{}

	mu      sync.Mutex
	seen    map[string]*list.Element
	lruList *list.List
}

// NewPersistentWriter starts the writer's drain goroutine. queueDepth
// bounds how far the writer may lag behind Publish before a Write call
// blocks (this is the "persistent leg applies backpressure instead of
// dropping" half of section 4.6).
func NewPersistentWriter(events repository.EventRepository, queueDepth int, logger *slog.Logger) *PersistentWriter {
	if queueDepth <= 0 {
		queueDepth = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &PersistentWriter{
		events:  events,
		logger:  logger.With("component", "eventstream.writer"),
		queue:   make(chan domain.Event, queueDepth),
		done:    make(chan struct{}),
		seen:    make(map[string]*list.Element),
		lruList: list.New(),
	}
	go w.run()
	return w
}

// Write enqueues event for durable persistence. It blocks if the writer's
// internal queue is full, applying backpressure to the caller rather than
// losing the event.
func (w *PersistentWriter) Write(event domain.Event) {
	w.queue <- event
}

// Close stops accepting new events and waits for the queue to drain.
func (w *PersistentWriter) Close() {
	close(w.queue)
	<-w.done
}

func (w *PersistentWriter) run() {
	defer close(w.done)
	ctx := context.Background()
	for event := range w.queue {
		if w.alreadySeen(event.IdempotencyKey()) {
			continue
		}
		e := event
		if err := w.events.AppendEvent(ctx, &e); err != nil {
			w.logger.Error("failed to persist event", "error", err,
				"runId", event.RunID, "nodeId", event.NodeID, "eventType", event.Type)
			continue
		}
		w.remember(event.IdempotencyKey())
	}
}

func (w *PersistentWriter) alreadySeen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[key]
	return ok
}

func (w *PersistentWriter) remember(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.seen[key]; ok {
		w.lruList.MoveToFront(el)
		return
	}

	el := w.lruList.PushFront(key)
	w.seen[key] = el

	if w.lruList.Len() > dedupCapacity {
		oldest := w.lruList.Back()
		if oldest != nil {
			w.lruList.Remove(oldest)
			delete(w.seen, oldest.Value.(string))
		}
	}
}
