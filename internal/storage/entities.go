package storage

import (
	"strconv"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Chat is either a direct chat between two users or a group chat.
// LatestMessage is a weak reference and may lag behind the newest message.
type Chat struct {
	ID            int64     `json:"id"`
	Name          string    `json:"chatName"`
	IsGroup       bool      `json:"isGroupChat"`
	Users         []User    `json:"users,omitempty"`
	GroupAdmin    *User     `json:"groupAdmin,omitempty"`
	LatestMessage *Message  `json:"latestMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"-"`
	Chat      *Chat     `json:"chat,omitempty"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewChat describes a chat to be created.
type NewChat struct {
	Name    string
	IsGroup bool
	Admin   int64
	Users   []int64
}

// DirectKey returns the canonical key of an unordered user pair.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
