package ingress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dispatchctl/notifyd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusHub fans out notification status transitions to subscribed
// websocket clients, grounded on the teacher's WebSocketHub but filtered
// by subscription ID and notification type instead of batch ID.
type StatusHub struct {
	clients    map[*statusClient]bool
	broadcast  chan *StatusUpdate
	register   chan *statusClient
	unregister chan *statusClient
	logger     *slog.Logger
	mu         sync.RWMutex
}

type statusClient struct {
	hub    *StatusHub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	filter *ClientFilter
}

type ClientFilter struct {
	NotificationIDs []uuid.UUID             `json:"notification_ids,omitempty"`
	SubscriptionIDs []uuid.UUID             `json:"subscription_ids,omitempty"`
	Types           []domain.NotificationType `json:"types,omitempty"`
}

type StatusUpdate struct {
	Type         string               `json:"type"`
	Notification *domain.Notification `json:"notification"`
	Timestamp    time.Time            `json:"timestamp"`
}

type subscribeMessage struct {
	Action string       `json:"action"`
	Filter ClientFilter `json:"filter"`
}

func NewStatusHub(logger *slog.Logger) *StatusHub {
	return &StatusHub{
		clients:    make(map[*statusClient]bool),
		broadcast:  make(chan *StatusUpdate, 256),
		register:   make(chan *statusClient),
		unregister: make(chan *statusClient),
		logger:     logger,
	}
}

func (h *StatusHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("websocket client connected", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", "client_id", client.id)

		case update := <-h.broadcast:
			message, err := json.Marshal(update)
			if err != nil {
				h.logger.Error("failed to marshal status update", "error", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if client.shouldReceive(update.Notification) {
					select {
					case client.send <- message:
					default:
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastStatus is handed to the Intake Service and the worker pool as
// their statusBroadcast callback.
func (h *StatusHub) BroadcastStatus(notification *domain.Notification) {
	update := &StatusUpdate{
		Type:         "status_update",
		Notification: notification,
		Timestamp:    time.Now().UTC(),
	}
	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("broadcast channel full, dropping update")
	}
}

func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *statusClient) shouldReceive(n *domain.Notification) bool {
	if c.filter == nil {
		return true
	}

	for _, id := range c.filter.NotificationIDs {
		if id == n.ID {
			return true
		}
	}
	for _, id := range c.filter.SubscriptionIDs {
		if id == n.SubscriptionID {
			return true
		}
	}
	for _, t := range c.filter.Types {
		if t == n.Type {
			return true
		}
	}

	if len(c.filter.NotificationIDs) > 0 || len(c.filter.SubscriptionIDs) > 0 || len(c.filter.Types) > 0 {
		return false
	}
	return true
}

type RealtimeHandler struct {
	hub *StatusHub
}

func NewRealtimeHandler(hub *StatusHub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

func (h *RealtimeHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Error("failed to upgrade websocket", "error", err)
		return
	}

	client := &statusClient{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.New().String(),
	}

	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *statusClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}

		var msg subscribeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.filter = &msg.Filter
			c.hub.logger.Info("client subscribed with filter", "client_id", c.id)
		case "unsubscribe":
			c.filter = nil
		}
	}
}

func (c *statusClient) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
