// Package chat implements the chat registry (direct chat deduplication, group
// membership) and the message pipeline on top of the chat store.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chat-backend/internal/apperr"
	"chat-backend/internal/storage"
	"chat-backend/internal/storage/zapadapter"
)

// directChatName is stored for direct chats, clients render the peer's name instead
const directChatName = "sender"

// Store is the subset of storage.Store the service works with
type Store interface {
	FindDirectChat(ctx context.Context, a, b int64) (storage.Chat, error)
	CreateChat(ctx context.Context, nc storage.NewChat) (int64, error)
	ChatByID(ctx context.Context, id int64) (storage.Chat, error)
	ChatsByUserID(ctx context.Context, user int64) ([]storage.Chat, error)
	RenameChat(ctx context.Context, id int64, name string) error
	AddChatUser(ctx context.Context, chat, user int64) error
	RemoveChatUser(ctx context.Context, chat, user int64) error
	CreateMessage(ctx context.Context, chat, sender int64, content string) (storage.Message, error)
	SetLatestMessage(ctx context.Context, chat, message int64) error
	MessagesByChatID(ctx context.Context, chat int64) ([]storage.Message, error)
}

// Publisher receives every persisted message for live delivery.
// origin names the realtime connection the sender wants excluded, it may be empty.
type Publisher interface {
	PublishMessage(msg storage.Message, origin string)
}

type Service struct {
	logger    *zap.SugaredLogger
	store     Store
	publisher Publisher
	sends     chatLocks
}

type Option func(*Service)

// WithPublisher hands persisted messages to p
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(logger *zap.SugaredLogger, store Store, opts ...Option) *Service {
	s := &Service{logger: logger, store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessDirectChat returns the direct chat between requester and other,
// creating it on first access. created reports whether a new chat was made.
//
// Lookup and creation are two separate store calls. When a concurrent request
// for the same pair wins the creation, the store rejects the second row and
// the winner's chat is returned.
func (s *Service) AccessDirectChat(ctx context.Context, requester, other int64) (c storage.Chat, created bool, err error) {
	if other < 1 {
		return storage.Chat{}, false, apperr.New(apperr.ErrInvalidArgument, "UserId parameter not sent with request")
	}

	c, err = s.store.FindDirectChat(ctx, requester, other)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, storage.ErrChatNotExist) {
		return storage.Chat{}, false, apperr.Store("finding direct chat", err)
	}

	id, err := s.store.CreateChat(ctx, storage.NewChat{
		Name:  directChatName,
		Users: []int64{requester, other},
	})
	switch {
	case errors.Is(err, storage.ErrChatExists):
		zapadapter.For(ctx, s.logger).Infof("Direct chat for users (%d, %d) created concurrently", requester, other)
		c, err = s.store.FindDirectChat(ctx, requester, other)
		if err != nil {
			return storage.Chat{}, false, apperr.Store("finding direct chat", err)
		}
		return c, false, nil
	case errors.Is(err, storage.ErrChatBadUsers):
		return storage.Chat{}, false, apperr.New(apperr.ErrNotFound, "User not found")
	case err != nil:
		return storage.Chat{}, false, apperr.Store("creating direct chat", err)
	}

	c, err = s.store.ChatByID(ctx, id)
	if err != nil {
		return storage.Chat{}, false, apperr.Store("loading chat", err)
	}
	return c, true, nil
}

// FetchChats returns every chat the user belongs to, most recently active first
func (s *Service) FetchChats(ctx context.Context, user int64) ([]storage.Chat, error) {
	chats, err := s.store.ChatsByUserID(ctx, user)
	if err != nil {
		return nil, apperr.Store("fetching chats", err)
	}
	return chats, nil
}

// CreateGroupChat creates a group administered by creator. members must name
// at least two users besides the creator.
func (s *Service) CreateGroupChat(ctx context.Context, creator int64, name string, members []int64) (storage.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" || members == nil {
		return storage.Chat{}, apperr.New(apperr.ErrInvalidArgument, "Please provide group name and users.")
	}

	others := lo.Without(lo.Uniq(members), creator)
	if len(others) < 2 {
		return storage.Chat{}, apperr.New(apperr.ErrInvalidArgument, "A group chat requires at least 2 users.")
	}

	id, err := s.store.CreateChat(ctx, storage.NewChat{
		Name:    name,
		IsGroup: true,
		Admin:   creator,
		Users:   append(others, creator),
	})
	if err != nil {
		if errors.Is(err, storage.ErrChatBadUsers) {
			return storage.Chat{}, apperr.New(apperr.ErrNotFound, "User not found")
		}
		return storage.Chat{}, apperr.Store("creating group chat", err)
	}

	return s.chat(ctx, id)
}

// RenameGroupChat updates the chat's display name
func (s *Service) RenameGroupChat(ctx context.Context, chatID int64, name string) (storage.Chat, error) {
	if chatID < 1 || strings.TrimSpace(name) == "" {
		return storage.Chat{}, apperr.New(apperr.ErrInvalidArgument, "Please provide chat id and name.")
	}

	if err := s.store.RenameChat(ctx, chatID, strings.TrimSpace(name)); err != nil {
		return storage.Chat{}, notFoundOr(err, "renaming chat")
	}
	return s.chat(ctx, chatID)
}

// AddMember adds user to the chat. Adding a current member changes nothing.
func (s *Service) AddMember(ctx context.Context, chatID, user int64) (storage.Chat, error) {
	if chatID < 1 || user < 1 {
		return storage.Chat{}, apperr.New(apperr.ErrInvalidArgument, "Please provide chat id and user id.")
	}

	if err := s.store.AddChatUser(ctx, chatID, user); err != nil {
		return storage.Chat{}, notFoundOr(err, "adding chat member")
	}
	return s.chat(ctx, chatID)
}

// RemoveMember removes user from the chat. The remaining member count is not
// checked, a group may end up with fewer than two members.
func (s *Service) RemoveMember(ctx context.Context, chatID, user int64) (storage.Chat, error) {
	if chatID < 1 || user < 1 {
		return storage.Chat{}, apperr.New(apperr.ErrInvalidArgument, "Please provide chat id and user id.")
	}

	if err := s.store.RemoveChatUser(ctx, chatID, user); err != nil {
		return storage.Chat{}, notFoundOr(err, "removing chat member")
	}
	return s.chat(ctx, chatID)
}

func (s *Service) chat(ctx context.Context, id int64) (storage.Chat, error) {
	c, err := s.store.ChatByID(ctx, id)
	if err != nil {
		return storage.Chat{}, notFoundOr(err, "loading chat")
	}
	return c, nil
}

func notFoundOr(err error, op string) error {
	switch {
	case errors.Is(err, storage.ErrChatNotExist):
		return apperr.New(apperr.ErrNotFound, "Chat not found")
	case errors.Is(err, storage.ErrUserNotExist):
		return apperr.New(apperr.ErrNotFound, "User not found")
	default:
		return apperr.Store(op, err)
	}
}
