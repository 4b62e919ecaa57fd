package eventstream

import "sync"

// Registry tracks the live Stream for every currently-dispatching run so a
// consumer that only knows a run ID (an HTTP/WebSocket handler accepting a
// new watcher mid-run) can find the Stream to subscribe to. A run not in
// the registry has either finished or never started; both cases are a
// "not found" to the caller, not an error.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register makes stream discoverable under runID. The caller (the worker
// dispatching runID) owns unregistering it once the run finishes.
func (r *Registry) Register(runID string, stream *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[runID] = stream
}

// Unregister removes runID's entry, if any. It does not close the stream;
// the caller does that once every subscriber has drained.
func (r *Registry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, runID)
}

// Get looks up runID's live Stream.
func (r *Registry) Get(runID string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[runID]
	return s, ok
}
