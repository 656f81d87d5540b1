package realtime

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fastjson"
)

// Event names are part of the wire contract with existing clients.
const (
	EventSetup           = "setup"
	EventConnected       = "connected"
	EventJoinChat        = "join chat"
	EventNewMessage      = "new message"
	EventMessageReceived = "message received"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventDisconnect      = "disconnect"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeFrame builds {"event": event, "data": data}. data must be valid JSON or nil.
func encodeFrame(event string, data []byte) ([]byte, error) {
	return json.Marshal(frame{Event: event, Data: data})
}

func chatRoom(id int64) string { return "chat:" + strconv.FormatInt(id, 10) }

func userRoom(id int64) string { return "user:" + strconv.FormatInt(id, 10) }

// idFromValue accepts an id as a number, a numeric string, or an object
// carrying it in "id" or "_id".
func idFromValue(v *fastjson.Value) (int64, bool) {
	if v == nil {
		return 0, false
	}

	var id int64
	switch v.Type() {
	case fastjson.TypeNumber:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		id = n
	case fastjson.TypeString:
		n, err := strconv.ParseInt(string(v.GetStringBytes()), 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	case fastjson.TypeObject:
		if inner := v.Get("id"); inner != nil && inner.Type() != fastjson.TypeObject {
			return idFromValue(inner)
		}
		if inner := v.Get("_id"); inner != nil && inner.Type() != fastjson.TypeObject {
			return idFromValue(inner)
		}
		return 0, false
	default:
		return 0, false
	}

	return id, id > 0
}
