package observer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// upgrader configures the WebSocket upgrade. CORS is wide open here: this is
// a read-mostly event feed, not an authenticated API surface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades incoming HTTP requests to WebSocket connections
// and wires them into a WebSocketHub.
type WebSocketHandler struct {
	hub    *WebSocketHub
	logger *logger.Logger
}

// NewWebSocketHandler creates a handler bound to hub.
func NewWebSocketHandler(hub *WebSocketHub, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: log}
}

// ServeHTTP upgrades the connection, registers a client (optionally scoped to
// an execution_id query parameter), and starts its read/write pumps.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("websocket upgrade failed", "error", err)
		}
		return
	}

	executionID := r.URL.Query().Get("execution_id")
	client := NewWebSocketClient(uuid.NewString(), conn, h.hub, executionID)

	h.hub.Register(client)

	welcome := map[string]any{
		"type":         "control",
		"message":      "Connected to MBFlow WebSocket",
		"client_id":    client.ID,
		"execution_id": executionID,
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	go client.writePump()
	client.readPump()
}

// HandleHealthCheck reports hub connectivity as a plain JSON status endpoint.
func (h *WebSocketHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":            "healthy",
		"connected_clients": h.hub.ClientCount(),
		"timestamp":         time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
