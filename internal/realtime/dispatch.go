package realtime

import (
	"encoding/json"

	"github.com/valyala/fastjson"
)

// handle decodes one inbound frame and dispatches it. Malformed frames are
// logged and dropped, they never close the connection.
func (c *Conn) handle(raw []byte) {
	h := c.hub
	p := h.parsers.Get()
	defer h.parsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil || v.Type() != fastjson.TypeObject {
		h.logger.Infof("Connection %s sent malformed frame: %v", c.id, err)
		return
	}

	event := string(v.GetStringBytes("event"))
	data := v.Get("data")

	switch event {
	case EventSetup:
		c.setup(data)
	case EventJoinChat:
		c.joinChat(data)
	case EventNewMessage:
		c.newMessage(data)
	case EventTyping, EventStopTyping:
		c.typing(event, data)
	default:
		h.logger.Infof("Connection %s sent unknown event %q", c.id, event)
	}
}

func (c *Conn) setup(data *fastjson.Value) {
	logger := c.hub.logger

	id, ok := idFromValue(data)
	if !ok {
		logger.Infof("Connection %s: %s without user id", c.id, EventSetup)
		return
	}

	c.mu.Lock()
	switch {
	case c.verified != 0 && c.verified != id:
		c.mu.Unlock()
		logger.Warnf("Connection %s: %s for user %d, token belongs to %d", c.id, EventSetup, id, c.verified)
		return
	case c.userID != 0 && c.userID != id:
		c.mu.Unlock()
		logger.Warnf("Connection %s: %s for user %d, already bound to %d", c.id, EventSetup, id, c.userID)
		return
	}
	c.userID = id
	c.mu.Unlock()

	c.hub.join(c, userRoom(id))

	payload, _ := json.Marshal(struct {
		ConnectionID string `json:"connectionId"`
	}{c.id})
	frame, err := encodeFrame(EventConnected, payload)
	if err != nil {
		logger.Errorf("Encoding %s: %v", EventConnected, err)
		return
	}
	c.enqueue(frame)
	logger.Debugf("Connection %s identified as user %d", c.id, id)
}

// identified drops events from connections that skipped "setup"
func (c *Conn) identified(event string) bool {
	if c.UserID() == 0 {
		c.hub.logger.Infof("Connection %s: %s before %s", c.id, event, EventSetup)
		return false
	}
	return true
}

func (c *Conn) joinChat(data *fastjson.Value) {
	if !c.identified(EventJoinChat) {
		return
	}

	id, ok := idFromValue(data)
	if !ok {
		c.hub.logger.Infof("Connection %s: %s without chat id", c.id, EventJoinChat)
		return
	}

	c.hub.join(c, chatRoom(id))
	c.hub.logger.Debugf("Connection %s joined chat %d", c.id, id)
}

// newMessage relays an already persisted message to the other members of its chat
func (c *Conn) newMessage(data *fastjson.Value) {
	if !c.identified(EventNewMessage) || data == nil {
		return
	}

	id, ok := idFromValue(data.Get("chat"))
	if !ok {
		c.hub.logger.Infof("Connection %s: chat or chat id not provided in %s", c.id, EventNewMessage)
		return
	}

	frame, err := encodeFrame(EventMessageReceived, data.MarshalTo(nil))
	if err != nil {
		c.hub.logger.Infof("Connection %s: encoding %s: %v", c.id, EventNewMessage, err)
		return
	}
	c.hub.broadcast(chatRoom(id), frame, c.self)
}

func (c *Conn) typing(event string, data *fastjson.Value) {
	if !c.identified(event) {
		return
	}

	id, ok := idFromValue(data)
	if !ok {
		c.hub.logger.Infof("Connection %s: %s without chat id", c.id, event)
		return
	}

	frame, err := encodeFrame(event, nil)
	if err != nil {
		return
	}
	c.hub.broadcast(chatRoom(id), frame, c.self)
}

func (c *Conn) self(other *Conn) bool { return other == c }
