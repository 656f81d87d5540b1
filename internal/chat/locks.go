package chat

import "sync"

const lockShards = 64

// chatLocks is a fixed set of mutexes sharded by chat id. Chats sharing a
// shard also share the lock.
type chatLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *chatLocks) lock(chatID int64) (unlock func()) {
	m := &l.shards[uint64(chatID)%lockShards]
	m.Lock()
	return m.Unlock
}
