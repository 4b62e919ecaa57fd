package eventstream

import (
	"encoding/json"
	"io"

	"github.com/fluxgraph/engine/internal/domain"
)

// flusher is satisfied by http.ResponseWriter; kept as a local interface so
// this package doesn't import net/http.
type flusher interface {
	Flush()
}

// NDJSONEncoder writes domain.Event values to w as newline-delimited JSON,
// flushing after each line when w supports it (the live HTTP stream
// consumer needs each event pushed to the client as it arrives, not
// buffered until the response closes).
type NDJSONEncoder struct {
	w   io.Writer
	enc *json.Encoder
}

// NewNDJSONEncoder wraps w. If w also implements flusher (e.g.
// http.ResponseWriter under a streaming handler), each Encode call flushes
// immediately after writing.
func NewNDJSONEncoder(w io.Writer) *NDJSONEncoder {
	return &NDJSONEncoder{w: w, enc: json.NewEncoder(w)}
}

// Encode writes one event as a single NDJSON line.
func (e *NDJSONEncoder) Encode(event domain.Event) error {
	if err := e.enc.Encode(event); err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
	return nil
}
