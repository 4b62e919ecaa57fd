package eventstream

import (
	"testing"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
)

func TestPersistentWriter_AppendsEvent(t *testing.T) {
	repo := &fakeEventRepo{}
	w := NewPersistentWriter(repo, 16, nil)

	w.Write(domain.Event{Type: domain.EventRunStart, RunID: "run-1", NodeID: "n1", Attempt: 1})
	w.Close()

	events := repo.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestPersistentWriter_DeduplicatesByIdempotencyKey(t *testing.T) {
	repo := &fakeEventRepo{}
	w := NewPersistentWriter(repo, 16, nil)

	event := domain.Event{Type: domain.EventNodeAttempt, RunID: "run-1", NodeID: "n1", Attempt: 2}
	w.Write(event)
	w.Write(event)
	w.Write(event)
	w.Close()

	events := repo.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events after duplicate writes, want 1", len(events))
	}
}

func TestPersistentWriter_DistinctAttemptsAreNotDeduplicated(t *testing.T) {
	repo := &fakeEventRepo{}
	w := NewPersistentWriter(repo, 16, nil)

	w.Write(domain.Event{Type: domain.EventNodeAttempt, RunID: "run-1", NodeID: "n1", Attempt: 1})
	w.Write(domain.Event{Type: domain.EventNodeAttempt, RunID: "run-1", NodeID: "n1", Attempt: 2})
	w.Close()

	events := repo.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestPersistentWriter_WritesCompleteThroughDepthOneQueue(t *testing.T) {
	repo := &fakeEventRepo{}
	w := NewPersistentWriter(repo, 1, nil)
	defer w.Close()

	// Fifty writes from one producer through a depth-1 queue: once the
	// queue is full each Write waits for the drain goroutine, and all of
	// them must still complete well within the timeout.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			w.Write(domain.Event{Type: domain.EventNodeAttempt, RunID: "run-1", NodeID: "n1", Attempt: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writes did not complete; queue may be stuck rather than draining")
	}
}
