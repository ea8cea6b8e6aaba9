package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients.
type Msg struct {
	Type   string `json:"type"`
	PoolID string `json:"pool_id"`
	Data   any    `json:"data"`
}

// Hub manages per-pool WebSocket subscriptions.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*conn]bool // poolID -> set of conns
	allConn map[*conn]bool
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
	pool string
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*conn]bool),
		allConn: make(map[*conn]bool),
	}
}

// Publish sends a message to all subscribers of a pool.
func (h *Hub) Publish(poolID, msgType string, data any) {
	msg := Msg{Type: msgType, PoolID: poolID, Data: data}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[poolID]
	h.mu.RUnlock()
	for c := range room {
		select {
		case c.send <- b:
		default:
			// slow client, drop
		}
	}
}

// HandleWS is the HTTP handler for WebSocket connections.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	c := &conn{
		ws:   wsConn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.mu.Lock()
	h.allConn[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		// Subscription message: {"action":"subscribe","pool_id":"..."}
		var sub struct {
			Action string `json:"action"`
			PoolID string `json:"pool_id"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.PoolID)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.PoolID)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, poolID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// One room per connection; drop the previous subscription.
	if c.pool != "" {
		if room, ok := h.rooms[c.pool]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.pool)
			}
		}
	}
	c.pool = poolID
	room, ok := h.rooms[poolID]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[poolID] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribe(c *conn, poolID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[poolID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, poolID)
		}
	}
	if c.pool == poolID {
		c.pool = ""
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	if c.pool != "" {
		if room, ok := h.rooms[c.pool]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.pool)
			}
		}
	}
	close(c.send)
}
