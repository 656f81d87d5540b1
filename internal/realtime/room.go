package realtime

import "sync"

// room is the set of connections subscribed to one key. Its mutex serializes
// membership changes and broadcasts, which keeps broadcasts to a room in order.
type room struct {
	mu      sync.Mutex
	members map[*Conn]struct{}
}

func newRoom() *room {
	return &room{members: make(map[*Conn]struct{})}
}
