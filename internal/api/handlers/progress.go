package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/marketetl/pkg/logger"
)

// ProgressEvent is one pipeline stage update pushed to subscribers.
type ProgressEvent struct {
	Stage  string                 `json:"stage"`
	Detail map[string]interface{} `json:"detail,omitempty"`
	Time   time.Time              `json:"time"`
}

// ProgressHub fans pipeline progress out to websocket subscribers. Slow
// clients are dropped rather than allowed to stall a run.
type ProgressHub struct {
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan ProgressEvent
}

// NewProgressHub creates the hub.
func NewProgressHub(log *logger.Logger) *ProgressHub {
	return &ProgressHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log,
		clients: make(map[*websocket.Conn]chan ProgressEvent),
	}
}

// Serve upgrades the connection and streams events until the client leaves
// GET /ws/progress
func (h *ProgressHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	ch := make(chan ProgressEvent, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	h.logger.WithField("clients", h.ClientCount()).Debug("Progress subscriber connected")

	go h.writeLoop(conn, ch)

	// Drain reads so close frames and pings are processed; the subscriber
	// never sends application data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(conn)
}

// Publish pushes an event to every subscriber. Shaped to plug directly into
// pipeline.Pipeline.OnProgress.
func (h *ProgressHub) Publish(stage string, detail map[string]interface{}) {
	event := ProgressEvent{Stage: stage, Detail: detail, Time: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			// Buffer full: the client is not keeping up
			h.logger.Warn("Dropping slow progress subscriber")
			delete(h.clients, conn)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *ProgressHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *ProgressHub) writeLoop(conn *websocket.Conn, ch chan ProgressEvent) {
	defer conn.Close()
	for event := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *ProgressHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
}
