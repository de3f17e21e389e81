package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	clientBuffer   = 256
)

// Event types pushed to subscribers
const (
	EventAssessment   = "assessment"
	EventEscalation   = "escalation"
	EventSessionEnded = "session_ended"
)

// Event is one update pushed to WebSocket subscribers
type Event struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type assessmentData struct {
	Analysis    *risk.Assessment `json:"analysis"`
	SessionInfo session.Info     `json:"session_info"`
}

// Client represents a connected WebSocket subscriber
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	callID string // empty subscribes to every call
}

// Hub manages assessment subscribers and broadcasts session events. It
// implements session.Listener.
type Hub struct {
	logger          *logrus.Entry
	clients         map[*Client]bool
	callSubscribers map[string]map[*Client]bool
	broadcast       chan *Event
	register        chan *Client
	unregister      chan *Client
	done            chan struct{}
	mutex           sync.RWMutex
	now             func() time.Time
}

// NewHub creates a new subscriber hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:          logger.WithField("component", "websocket_hub"),
		clients:         make(map[*Client]bool),
		callSubscribers: make(map[string]map[*Client]bool),
		broadcast:       make(chan *Event, clientBuffer),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		done:            make(chan struct{}),
		now:             time.Now,
	}
}

// newUpgrader accepts any origin when allowed is empty or contains "*"
func newUpgrader(allowed []string) *websocket.Upgrader {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 || origins["*"] {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origins[origin]
		},
	}
}

// Run starts the hub loop until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.logger.Info("Shutting down WebSocket hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			if client.callID != "" {
				if _, exists := h.callSubscribers[client.callID]; !exists {
					h.callSubscribers[client.callID] = make(map[*Client]bool)
				}
				h.callSubscribers[client.callID][client] = true
			}
			count := len(h.clients)
			h.mutex.Unlock()

			metrics.SetWebSocketClients(count)
			h.logger.WithField("call_id", client.callID).Info("Client connected to WebSocket")

		case client := <-h.unregister:
			h.mutex.Lock()
			removed := h.removeLocked(client)
			count := len(h.clients)
			h.mutex.Unlock()

			if removed {
				metrics.SetWebSocketClients(count)
				h.logger.WithField("call_id", client.callID).Info("Client disconnected from WebSocket")
			}

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal event")
				continue
			}
			h.deliver(event.CallID, data)
		}
	}
}

func (h *Hub) deliver(callID string, data []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var slow []*Client
	for client := range h.callSubscribers[callID] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	for client := range h.clients {
		if client.callID != "" {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		h.removeLocked(client)
		h.logger.WithField("call_id", client.callID).Warn("Dropping slow WebSocket client")
	}
	if len(slow) > 0 {
		metrics.SetWebSocketClients(len(h.clients))
	}
}

// removeLocked must be called with the mutex held
func (h *Hub) removeLocked(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)

	if subscribers, exists := h.callSubscribers[client.callID]; exists {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.callSubscribers, client.callID)
		}
	}
	return true
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
	metrics.SetWebSocketClients(0)
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Publish queues an event for delivery. Events are dropped when the hub
// is backed up.
func (h *Hub) Publish(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.WithFields(logrus.Fields{
			"type":    event.Type,
			"call_id": event.CallID,
		}).Warn("WebSocket broadcast queue full, dropping event")
	}
}

// OnAssessment implements session.Listener
func (h *Hub) OnAssessment(a *risk.Assessment, info session.Info) {
	h.Publish(&Event{
		Type:      EventAssessment,
		CallID:    a.CallID,
		Timestamp: h.now().UTC(),
		Data:      assessmentData{Analysis: a, SessionInfo: info},
	})
}

// OnEscalation implements session.Listener
func (h *Hub) OnEscalation(a *risk.Assessment) {
	h.Publish(&Event{
		Type:      EventEscalation,
		CallID:    a.CallID,
		Timestamp: h.now().UTC(),
		Data:      a,
	})
}

// OnSessionEnded implements session.Listener
func (h *Hub) OnSessionEnded(summary *session.Summary) {
	h.Publish(&Event{
		Type:      EventSessionEnded,
		CallID:    summary.CallID,
		Timestamp: h.now().UTC(),
		Data:      summary,
	})
}

// ServeWs returns the handler that subscribes clients. The optional
// call_id query parameter limits events to one call.
func (h *Hub) ServeWs(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.WithError(err).Warn("Failed to upgrade connection to WebSocket")
			return
		}

		client := &Client{
			hub:    h,
			conn:   conn,
			send:   make(chan []byte, clientBuffer),
			callID: r.URL.Query().Get("call_id"),
		}

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump discards inbound frames and detects disconnects
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps events from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
