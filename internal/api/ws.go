package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/analytics"
	"github.com/shizukutanaka/logpulse/internal/database"
)

const writeWait = 10 * time.Second

// Event is one websocket broadcast frame
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// Hub broadcasts file status changes and pipeline results to websocket
// clients. It implements ingest.Notifier.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// NewHub creates a websocket hub. An empty origin list denies every upgrade.
func NewHub(allowOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return false
				}
				for _, allowed := range allowOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client disconnects. Clients only receive; inbound frames are discarded.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("WebSocket client connected", zap.Int("clients", count))

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// NotifyFile broadcasts a file status change
func (h *Hub) NotifyFile(file *database.LogFile) {
	h.broadcast(Event{Type: "file_status", Data: file, Time: time.Now().UTC()})
}

// NotifyRun broadcasts a finished pipeline execution
func (h *Hub) NotifyRun(summary *analytics.RunSummary) {
	h.broadcast(Event{Type: "pipeline_run", Data: summary, Time: time.Now().UTC()})
}

func (h *Hub) broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client and rejects future connections
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
