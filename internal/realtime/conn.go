package realtime

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	queueFull
	queueClosed
)

// Conn is one live client connection. It starts anonymous and becomes
// identified once a "setup" event binds a user id to it.
type Conn struct {
	id   string
	addr string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	closed   bool
	userID   int64
	verified int64
	rooms    map[string]struct{}
}

func newConn(h *Hub, ws *websocket.Conn, addr string, verified int64) *Conn {
	if ws != nil {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	return &Conn{
		id:       uuid.NewString(),
		addr:     addr,
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, h.cfg.SendBuffer),
		verified: verified,
		rooms:    make(map[string]struct{}),
	}
}

// ID is sent to the client with "connected" so that it can name its own
// connection when sending messages over HTTP.
func (c *Conn) ID() string { return c.id }

// UserID returns the identity bound by "setup", zero before that.
func (c *Conn) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) enqueue(frame []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return queueClosed
	}
	select {
	case c.send <- frame:
		return enqueued
	default:
		return queueFull
	}
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) closeTransport() {
	if c.ws == nil {
		return
	}
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.hub.logger.Debugf("Closing connection %s: %v", c.id, err)
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.closeTransport()
	}()

	pongWait := c.hub.cfg.PongWait
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.handle(raw)
	}
}

func (c *Conn) logReadError(err error) {
	logger := c.hub.logger
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Infof("Connection %s sent a frame over %d bytes", c.id, c.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
		logger.Debugf("Connection %s from %s closed: %v", c.id, c.addr, err)
	default:
		logger.Infof("Connection %s from %s read error: %v", c.id, c.addr, err)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	writeWait := c.hub.cfg.WriteWait
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.hub.logger.Infof("Writing to connection %s: %v", c.id, err)
				}
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError reports errors produced by a connection closed from our side
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}
