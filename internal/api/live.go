package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vigil-nvr/vigil/internal/camera"
	"github.com/vigil-nvr/vigil/internal/nvrerr"
)

// liveFrameSendTimeout bounds how long a frame waits to be handed to the
// connection's writer (spec §5 backpressure policy); a client that can't
// keep up gets its frame dropped rather than stalling the bus.
const liveFrameSendTimeout = 10 * time.Millisecond

// LiveHandler upgrades GET /ws/live?camera_id=... to a websocket and pushes
// one camera's frame bus as raw binary JPEG messages. Unlike Hub, which
// broadcasts JSON control-plane messages to many subscribers at once, this
// is a single dedicated subscription per connection with its own
// non-blocking write discipline.
type LiveHandler struct {
	registry *camera.Registry
	logger   *slog.Logger
}

// NewLiveHandler creates a live-view websocket handler bound to the camera
// registry.
func NewLiveHandler(registry *camera.Registry) *LiveHandler {
	return &LiveHandler{registry: registry, logger: slog.Default().With("component", "live-ws")}
}

// ServeHTTP upgrades the connection and streams frames until the client
// disconnects or the camera's bus is closed.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := r.URL.Query().Get("camera_id")
	if cameraID == "" {
		BadRequest(w, "camera_id query parameter is required")
		return
	}

	cam := h.registry.Get(cameraID)
	if cam == nil {
		NotFound(w, "camera not found: "+cameraID)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live ws upgrade failed", "camera_id", cameraID, "error", err)
		return
	}
	defer conn.Close()

	sub := cam.Bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go h.drainReads(conn, done)

	out := make(chan []byte, 1)
	defer close(out)
	go func() {
		for payload := range out {
			if conn.WriteMessage(websocket.BinaryMessage, payload) != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		f, ok, err := sub.RecvCtx(done)
		if !ok {
			return
		}
		if err != nil {
			var lagged *nvrerr.LaggedError
			if errors.As(err, &lagged) {
				h.logger.Debug("live ws subscriber lagging", "camera_id", cameraID, "dropped", lagged.N)
			}
			continue
		}

		select {
		case out <- f.Payload:
		case <-time.After(liveFrameSendTimeout): // writer still busy: drop this frame
		}
	}
}

// drainReads discards client-sent frames (this endpoint is push-only) and
// closes done once the client disconnects, unblocking RecvCtx.
func (h *LiveHandler) drainReads(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
