package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tighten for production deployments
	},
}

// StatusUpdate is pushed to a connected client as its settlement flow
// moves through states.
type StatusUpdate struct {
	RequestRef string    `json:"request_ref"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

type wsClient struct {
	phone string
	conn  *websocket.Conn
	send  chan []byte
}

// Hub fans settlement status updates out to connected clients, keyed by
// phone number. It satisfies the orchestrator's StatusPublisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		logger:  logger,
	}
}

// Publish implements orchestrator.StatusPublisher. Updates for phones
// with no open socket are dropped.
func (h *Hub) Publish(phone, requestRef, state, detail string) {
	payload, err := json.Marshal(StatusUpdate{
		RequestRef: requestRef,
		State:      state,
		Detail:     detail,
		At:         time.Now(),
	})
	if err != nil {
		return
	}

	// Send under the read lock so the channel cannot be closed by a
	// concurrent unregister.
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[phone]
	if !ok {
		return
	}
	select {
	case client.send <- payload:
	default:
		// Slow consumer; drop the update rather than the flow.
		h.logger.Warn("status update dropped", zap.String("phone", phone))
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	if old, ok := h.clients[c.phone]; ok {
		close(old.send)
		_ = old.conn.Close()
	}
	h.clients[c.phone] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.phone]; ok && cur == c {
		delete(h.clients, c.phone)
		close(c.send)
	}
	h.mu.Unlock()
}

// StatusWebSocketHandler upgrades the connection and streams settlement
// status updates for the authenticated caller.
func (h *PaymentHandler) StatusWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{phone: caller.PhoneNumber, conn: conn, send: make(chan []byte, 16)}
	h.hub.register(client)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *PaymentHandler) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *PaymentHandler) readPump(c *wsClient) {
	defer func() {
		h.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
