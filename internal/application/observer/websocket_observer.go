package observer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// EventPayload is the wire representation of an Event sent to WebSocket clients.
type EventPayload struct {
	EventType   string         `json:"event_type"`
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	Timestamp   time.Time      `json:"timestamp"`
	NodeID      *string        `json:"node_id,omitempty"`
	NodeName    *string        `json:"node_name,omitempty"`
	NodeType    *string        `json:"node_type,omitempty"`
	WaveIndex   *int           `json:"wave_index,omitempty"`
	NodeCount   *int           `json:"node_count,omitempty"`
	Status      string         `json:"status"`
	Error       *string        `json:"error,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	DurationMs  *int64         `json:"duration_ms,omitempty"`
}

// WebSocketMessage is the top-level envelope sent over the wire. Type is
// either "event" (Event populated) or "control" (Control populated).
type WebSocketMessage struct {
	Type      string         `json:"type"`
	Event     *EventPayload  `json:"event,omitempty"`
	Control   map[string]any `json:"control,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebSocketHub tracks connected clients and fans out broadcast messages to them.
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewWebSocketHub creates a hub and starts its run loop in a background goroutine.
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     log,
	}
	go hub.run()
	return hub
}

func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer is full; drop it rather than block the hub.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client *WebSocketClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client *WebSocketClient) {
	h.unregister <- client
}

// Broadcast sends message to every connected client.
func (h *WebSocketHub) Broadcast(message []byte) {
	h.broadcast <- message
}

// BroadcastToExecution sends message only to clients subscribed to executionID,
// plus clients with no execution filter (subscribed to everything).
func (h *WebSocketHub) BroadcastToExecution(executionID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.executionID != "" && client.executionID != executionID {
			continue
		}
		select {
		case client.send <- message:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WebSocketClient represents a single connected WebSocket client.
type WebSocketClient struct {
	ID            string
	conn          *websocket.Conn
	send          chan []byte
	hub           *WebSocketHub
	executionID   string // "" means subscribed to all executions
	subscriptions map[EventType]bool
}

// NewWebSocketClient creates a client bound to conn and registered with hub.
func NewWebSocketClient(id string, conn *websocket.Conn, hub *WebSocketHub, executionID string) *WebSocketClient {
	return &WebSocketClient{
		ID:            id,
		conn:          conn,
		send:          make(chan []byte, 256),
		hub:           hub,
		executionID:   executionID,
		subscriptions: make(map[EventType]bool),
	}
}

// IsSubscribed reports whether the client wants events of the given type.
// A client with no subscriptions receives every event type.
func (c *WebSocketClient) IsSubscribed(eventType EventType) bool {
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[eventType]
}

// handleMessage processes a client->server command. Malformed or unknown
// messages are ignored.
func (c *WebSocketClient) handleMessage(message []byte) {
	var cmd struct {
		Command    string   `json:"command"`
		EventTypes []string `json:"event_types"`
	}
	if err := json.Unmarshal(message, &cmd); err != nil {
		return
	}

	switch cmd.Command {
	case "subscribe":
		for _, t := range cmd.EventTypes {
			c.subscriptions[EventType(t)] = true
		}
	case "unsubscribe":
		for _, t := range cmd.EventTypes {
			delete(c.subscriptions, EventType(t))
		}
	}
}

// readPump reads commands from the client connection until it disconnects.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(message)
	}
}

// writePump delivers queued messages to the client connection.
func (c *WebSocketClient) writePump() {
	defer func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// WebSocketObserver broadcasts execution events to all WebSocket clients
// connected to hub (or a filtered subset, per-execution, via hub.BroadcastToExecution).
type WebSocketObserver struct {
	hub    *WebSocketHub
	filter EventFilter
	logger *logger.Logger
}

// WebSocketObserverOption configures WebSocketObserver
type WebSocketObserverOption func(*WebSocketObserver)

// WithWebSocketFilter sets the event filter
func WithWebSocketFilter(filter EventFilter) WebSocketObserverOption {
	return func(o *WebSocketObserver) {
		o.filter = filter
	}
}

// WithWebSocketLogger sets the logger
func WithWebSocketLogger(l *logger.Logger) WebSocketObserverOption {
	return func(o *WebSocketObserver) {
		o.logger = l
	}
}

// NewWebSocketObserver creates an observer that broadcasts through hub.
func NewWebSocketObserver(hub *WebSocketHub, opts ...WebSocketObserverOption) *WebSocketObserver {
	obs := &WebSocketObserver{
		hub:    hub,
		filter: nil,
	}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

// Name returns the observer's name.
func (o *WebSocketObserver) Name() string {
	return "websocket"
}

// Filter returns the configured event filter.
func (o *WebSocketObserver) Filter() EventFilter {
	return o.filter
}

// GetHub returns the underlying hub.
func (o *WebSocketObserver) GetHub() *WebSocketHub {
	return o.hub
}

// OnEvent converts event to a WebSocketMessage and broadcasts it, scoped to
// the event's execution when one is present.
func (o *WebSocketObserver) OnEvent(ctx context.Context, event Event) error {
	msg := o.eventToMessage(event)

	data, err := json.Marshal(msg)
	if err != nil {
		if o.logger != nil {
			o.logger.Error("failed to marshal websocket event message", "error", err)
		}
		return err
	}

	if event.ExecutionID != "" {
		o.hub.BroadcastToExecution(event.ExecutionID, data)
	} else {
		o.hub.Broadcast(data)
	}

	return nil
}

// eventToMessage converts an Event to its wire representation.
func (o *WebSocketObserver) eventToMessage(event Event) *WebSocketMessage {
	payload := &EventPayload{
		EventType:   string(event.Type),
		ExecutionID: event.ExecutionID,
		WorkflowID:  event.WorkflowID,
		Timestamp:   event.Timestamp,
		NodeID:      event.NodeID,
		NodeName:    event.NodeName,
		NodeType:    event.NodeType,
		WaveIndex:   event.WaveIndex,
		NodeCount:   event.NodeCount,
		Status:      event.Status,
		Input:       event.Input,
		Output:      event.Output,
		Variables:   event.Variables,
		DurationMs:  event.DurationMs,
	}

	if event.Error != nil {
		errStr := event.Error.Error()
		payload.Error = &errStr
	}

	return &WebSocketMessage{
		Type:      "event",
		Event:     payload,
		Timestamp: time.Now(),
	}
}
