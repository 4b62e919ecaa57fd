package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fluxgraph/engine/internal/eventstream"
	"github.com/fluxgraph/engine/internal/platform/logger"
)

// Websocket connection tuning, matching the values a browser client can
// rely on regardless of which run it's watching.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventStreamHandlers serves a live WebSocket view of an in-flight run's
// event stream, alongside the NDJSON HTTP stream HandleExecute serves for
// ephemeral runs. Both are fed by the same dispatcher-produced events; this
// one additionally requires the run still be registered in streams (i.e.
// still dispatching), since a finished run has nothing left to watch live.
type EventStreamHandlers struct {
	streams *eventstream.Registry
	logger  *logger.Logger
}

func NewEventStreamHandlers(streams *eventstream.Registry, log *logger.Logger) *EventStreamHandlers {
	return &EventStreamHandlers{streams: streams, logger: log}
}

// HandleWebSocket handles GET /api/executions/{id}/stream, upgrading to a
// WebSocket and forwarding every event the run's Stream publishes until the
// run finishes (the stream closes) or the client disconnects.
func (h *EventStreamHandlers) HandleWebSocket(c *gin.Context) {
	runID, ok := getParam(c, "id")
	if !ok {
		return
	}

	if h.streams == nil {
		respondAPIError(c, NewAPIError("RUN_NOT_STREAMING", "run is not currently dispatching", http.StatusNotFound))
		return
	}
	stream, found := h.streams.Get(runID)
	if !found {
		respondAPIError(c, NewAPIError("RUN_NOT_STREAMING", "run is not currently dispatching", http.StatusNotFound))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "runId", runID)
		return
	}
	defer conn.Close()

	events, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	go h.readPump(conn)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, open := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames, keeping the read deadline
// alive via pong handling; this endpoint is observe-only so no command
// protocol is needed.
func (h *EventStreamHandlers) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
