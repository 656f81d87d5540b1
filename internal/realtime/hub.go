// Package realtime keeps live connections grouped into rooms and fans events
// out to them. A room is keyed by a chat or a user id, joining a room is the
// only way to subscribe to its events.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"chat-backend/internal/storage"
)

// Hub owns every live connection and the room table.
type Hub struct {
	logger  *zap.SugaredLogger
	cfg     Config
	parsers fastjson.ParserPool

	mu     sync.RWMutex
	rooms  map[string]*room
	conns  map[*Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

func NewHub(logger *zap.SugaredLogger, cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	return &Hub{
		logger: logger,
		cfg:    cfg,
		rooms:  make(map[string]*room),
		conns:  make(map[*Conn]struct{}),
	}
}

// Serve registers a connection for ws and starts its pumps. verified is the
// user id proven by a token at connection time, zero if none was presented.
func (h *Hub) Serve(ws *websocket.Conn, addr string, verified int64) {
	c := newConn(h, ws, addr, verified)
	if !h.register(c, 2) {
		_ = ws.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// register adds c and accounts for its pumps while holding the lock that
// Shutdown takes, so Shutdown either rejects c or waits for its pumps.
func (h *Hub) register(c *Conn, pumps int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.wg.Add(pumps)
	h.conns[c] = struct{}{}
	h.logger.Debugf("Connection %s registered from %s, total %d", c.id, c.addr, len(h.conns))
	return true
}

// join adds c to the room named key. Joining twice changes nothing.
func (h *Hub) join(c *Conn, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}

	r, ok := h.rooms[key]
	if !ok {
		r = newRoom()
		h.rooms[key] = r
	}

	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()

	c.mu.Lock()
	c.rooms[key] = struct{}{}
	c.mu.Unlock()
}

// unregister removes c from every room it joined and closes its send queue.
// It is safe to call more than once.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)

	c.mu.Lock()
	keys := c.rooms
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for key := range keys {
		r, ok := h.rooms[key]
		if !ok {
			continue
		}
		r.mu.Lock()
		delete(r.members, c)
		empty := len(r.members) == 0
		r.mu.Unlock()
		if empty {
			delete(h.rooms, key)
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	c.closeSend()
	h.logger.Debugf("Connection %s unregistered (%s), left %d rooms, total %d", c.id, EventDisconnect, len(keys), total)
}

// broadcast queues frame for every member of the room except those skip
// rejects and returns the number of connections it was queued for. Slow
// connections whose queue is full are dropped instead of blocking the caller.
func (h *Hub) broadcast(key string, frame []byte, skip func(*Conn) bool) int {
	h.mu.RLock()
	r, ok := h.rooms[key]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	var slow []*Conn
	sent := 0

	r.mu.Lock()
	for c := range r.members {
		if skip != nil && skip(c) {
			continue
		}
		switch c.enqueue(frame) {
		case enqueued:
			sent++
		case queueFull:
			slow = append(slow, c)
		}
	}
	r.mu.Unlock()

	for _, c := range slow {
		h.logger.Warnf("Connection %s from %s dropped: send queue full", c.id, c.addr)
		go h.drop(c)
	}

	return sent
}

// drop unregisters c and closes its transport
func (h *Hub) drop(c *Conn) {
	h.unregister(c)
	c.closeTransport()
}

// PublishMessage delivers a persisted message to the chat's room as
// "message received". The connection named origin is skipped; without an
// origin every connection identified as the sender is skipped.
func (h *Hub) PublishMessage(msg storage.Message, origin string) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Marshaling message %d: %v", msg.ID, err)
		return
	}

	frame, err := encodeFrame(EventMessageReceived, payload)
	if err != nil {
		h.logger.Errorf("Encoding message %d: %v", msg.ID, err)
		return
	}

	n := h.broadcast(chatRoom(msg.ChatID), frame, func(c *Conn) bool {
		if origin != "" {
			return c.id == origin
		}
		return c.UserID() == msg.Sender.ID
	})
	h.logger.Debugf("Message %d published to chat %d, %d receivers", msg.ID, msg.ChatID, n)
}

// Members returns the number of connections in the room of chat
func (h *Hub) Members(chatID int64) int {
	h.mu.RLock()
	r, ok := h.rooms[chatRoom(chatID)]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Shutdown stops accepting connections, closes the live ones and waits for
// their pumps to exit or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.logger.Infof("Closing %d realtime connections", len(conns))
	for _, c := range conns {
		h.drop(c)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
