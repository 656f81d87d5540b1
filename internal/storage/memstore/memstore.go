// Package memstore is an in-memory implementation of the chat store. It keeps
// the semantics of storage.Store, including its sentinel errors, and is used
// for local development and tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chat-backend/internal/storage"
)

type chatRow struct {
	id        int64
	name      string
	isGroup   bool
	admin     int64
	latest    int64
	directKey string
	members   map[int64]struct{}
	createdAt time.Time
	updatedAt time.Time
	touched   uint64
}

type Store struct {
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	users    map[int64]storage.User
	emails   map[string]int64
	chats    map[int64]*chatRow
	direct   map[string]int64
	messages map[int64]storage.Message
	byChat   map[int64][]int64
	nextID   int64
	clock    uint64
}

func New(logger *zap.SugaredLogger) *Store {
	return &Store{
		logger:   logger,
		users:    make(map[int64]storage.User),
		emails:   make(map[string]int64),
		chats:    make(map[int64]*chatRow),
		direct:   make(map[string]int64),
		messages: make(map[int64]storage.Message),
		byChat:   make(map[int64][]int64),
	}
}

func (s *Store) Close() {}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) touch(c *chatRow) {
	s.clock++
	c.touched = s.clock
	c.updatedAt = time.Now().UTC()
}

func (s *Store) CreateUser(_ context.Context, name, email, passwordHash string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[email]; ok {
		return storage.User{}, storage.ErrUserExists
	}

	u := storage.User{ID: s.id(), Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	s.logger.Debugf("Created user (%s) with id %d", email, u.ID)

	return u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	return s.users[id], nil
}

func (s *Store) SearchUsers(_ context.Context, query string, exclude int64) ([]storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	users := []storage.User{}
	for _, u := range s.users {
		if u.ID == exclude {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(strings.ToLower(u.Email), q) {
			users = append(users, public(u))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return users, nil
}

func public(u storage.User) storage.User {
	u.PasswordHash = ""
	return u
}

func (s *Store) CreateChat(_ context.Context, nc storage.NewChat) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := lo.Uniq(nc.Users)
	for _, u := range users {
		if _, ok := s.users[u]; !ok {
			return 0, storage.ErrChatBadUsers
		}
	}

	c := &chatRow{
		name:      nc.Name,
		isGroup:   nc.IsGroup,
		members:   make(map[int64]struct{}, len(users)),
		createdAt: time.Now().UTC(),
	}
	if nc.IsGroup {
		if _, ok := s.users[nc.Admin]; !ok {
			return 0, storage.ErrChatBadUsers
		}
		c.admin = nc.Admin
	} else {
		c.directKey = storage.DirectKey(lo.Min(users), lo.Max(users))
		if _, ok := s.direct[c.directKey]; ok {
			return 0, storage.ErrChatExists
		}
	}

	c.id = s.id()
	for _, u := range users {
		c.members[u] = struct{}{}
	}
	s.touch(c)
	s.chats[c.id] = c
	if !c.isGroup {
		s.direct[c.directKey] = c.id
	}
	s.logger.Debugf("Created chat (%s) with id %d", nc.Name, c.id)

	return c.id, nil
}

// resolve must be called with s.mu held
func (s *Store) resolve(c *chatRow) storage.Chat {
	out := storage.Chat{
		ID:        c.id,
		Name:      c.name,
		IsGroup:   c.isGroup,
		Users:     make([]storage.User, 0, len(c.members)),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	for id := range c.members {
		out.Users = append(out.Users, public(s.users[id]))
	}
	sort.Slice(out.Users, func(i, j int) bool { return out.Users[i].ID < out.Users[j].ID })

	if c.admin != 0 {
		admin := public(s.users[c.admin])
		out.GroupAdmin = &admin
	}
	if m, ok := s.messages[c.latest]; ok {
		m.Chat = nil
		out.LatestMessage = &m
	}
	return out
}

func (s *Store) ChatByID(_ context.Context, id int64) (storage.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	return s.resolve(c), nil
}

func (s *Store) FindDirectChat(_ context.Context, a, b int64) (storage.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.direct[storage.DirectKey(a, b)]
	if !ok {
		return storage.Chat{}, storage.ErrChatNotExist
	}
	return s.resolve(s.chats[id]), nil
}

func (s *Store) ChatsByUserID(_ context.Context, user int64) ([]storage.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := lo.Filter(lo.Values(s.chats), func(c *chatRow, _ int) bool {
		_, ok := c.members[user]
		return ok
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].touched > rows[j].touched })

	return lo.Map(rows, func(c *chatRow, _ int) storage.Chat { return s.resolve(c) }), nil
}

func (s *Store) RenameChat(_ context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return storage.ErrChatNotExist
	}
	c.name = name
	return nil
}

func (s *Store) AddChatUser(_ context.Context, chat, user int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chat]
	if !ok {
		return storage.ErrChatNotExist
	}
	if _, ok := s.users[user]; !ok {
		return storage.ErrUserNotExist
	}
	c.members[user] = struct{}{}
	s.touch(c)
	return nil
}

func (s *Store) RemoveChatUser(_ context.Context, chat, user int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chat]
	if !ok {
		return storage.ErrChatNotExist
	}
	delete(c.members, user)
	s.touch(c)
	return nil
}

func (s *Store) CreateMessage(_ context.Context, chat, sender int64, content string) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chat]; !ok {
		return storage.Message{}, storage.ErrMessageBadChat
	}
	u, ok := s.users[sender]
	if !ok {
		return storage.Message{}, storage.ErrMessageBadAuthor
	}

	m := storage.Message{
		ID:        s.id(),
		ChatID:    chat,
		Sender:    public(u),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.messages[m.ID] = m
	s.byChat[chat] = append(s.byChat[chat], m.ID)

	return m, nil
}

func (s *Store) SetLatestMessage(_ context.Context, chat, message int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chat]
	if !ok {
		return storage.ErrChatNotExist
	}
	if message > c.latest {
		c.latest = message
	}
	s.touch(c)
	return nil
}

func (s *Store) MessagesByChatID(_ context.Context, chat int64) ([]storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chat]
	if !ok {
		return nil, storage.ErrChatNotExist
	}

	ref := &storage.Chat{ID: c.id, Name: c.name, IsGroup: c.isGroup, CreatedAt: c.createdAt, UpdatedAt: c.updatedAt}
	messages := make([]storage.Message, 0, len(s.byChat[chat]))
	for _, id := range s.byChat[chat] {
		m := s.messages[id]
		m.Chat = ref
		messages = append(messages, m)
	}
	return messages, nil
}
