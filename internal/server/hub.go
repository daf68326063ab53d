package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientAction is a JSON message sent by a WebSocket client
type clientAction struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// client is one WebSocket connection and its channel subscriptions
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool
}

// Hub fans operator notices out to WebSocket clients subscribed to
// "bot:<id>" channels. It implements repo.Notifier.
type Hub struct {
	logger *zap.Logger

	mu          sync.Mutex
	clients     map[*client]bool
	channelSubs map[string]map[*client]bool
	closed      bool
}

// NewHub creates a new hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger,
		clients:     make(map[*client]bool),
		channelSubs: make(map[string]map[*client]bool),
	}
}

// BotChannel is the subscription channel for one bot
func BotChannel(botID int64) string {
	return "bot:" + strconv.FormatInt(botID, 10)
}

// Notify broadcasts a notice to the bot's subscribers. It never blocks.
func (h *Hub) Notify(ctx context.Context, n *domain.Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	h.Broadcast(BotChannel(n.BotID), data)
	return nil
}

// Broadcast sends a message to all clients subscribed to the channel.
// Clients whose send buffer is full are dropped.
func (h *Hub) Broadcast(channelID string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.channelSubs[channelID] {
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
		}
	}
}

// Subscribers returns how many clients follow a channel
func (h *Hub) Subscribers(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channelSubs[channelID])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// ServeWS upgrades the request and registers the client
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, clientSendSize),
		channels: make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) subscribe(c *client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	c.channels[channelID] = true
	if h.channelSubs[channelID] == nil {
		h.channelSubs[channelID] = make(map[*client]bool)
	}
	h.channelSubs[channelID][c] = true
}

func (h *Hub) unsubscribe(c *client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.channels, channelID)
	if subs, ok := h.channelSubs[channelID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channelSubs, channelID)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for ch := range c.channels {
		if subs, ok := h.channelSubs[ch]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.channelSubs, ch)
			}
		}
	}
	close(c.send)
}

// readPump handles subscribe/unsubscribe actions from the client
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws unexpected close", zap.Error(err))
			}
			return
		}

		var action clientAction
		if err := json.Unmarshal(message, &action); err != nil {
			c.hub.logger.Debug("ws invalid client message", zap.Error(err))
			continue
		}

		switch action.Action {
		case "subscribe":
			if action.Channel != "" {
				c.hub.subscribe(c, action.Channel)
			}
		case "unsubscribe":
			if action.Channel != "" {
				c.hub.unsubscribe(c, action.Channel)
			}
		}
	}
}

// writePump pumps hub messages to the connection
func (c *client) writePump() {
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
