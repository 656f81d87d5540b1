package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/internal/apperr"
	"chat-backend/internal/storage"
	"chat-backend/internal/storage/memstore"
)

func TestSendMessage(t *testing.T) {
	t.Parallel()
	s, _, pub, users := bootstrapService(t, 2)
	ctx := context.Background()

	c, _, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)

	msg, err := s.SendMessage(ctx, users[0], c.ID, "hi", "conn-1")
	require.NoError(t, err)
	require.Equal(t, "hi", msg.Content)
	require.Equal(t, users[0], msg.Sender.ID)
	require.Equal(t, c.ID, msg.Chat.ID)
	require.Len(t, msg.Chat.Users, 2)

	require.Len(t, pub.published, 1)
	require.Equal(t, msg.ID, pub.published[0].msg.ID)
	require.Equal(t, "conn-1", pub.published[0].origin)

	messages, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, messages[len(messages)-1].ID)
}

func TestSendMessage_Order(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 2)
	ctx := context.Background()

	c, _, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)

	contents := []string{"one", "two", "three"}
	for i, text := range contents {
		_, err := s.SendMessage(ctx, users[i%2], c.ID, text, "")
		require.NoError(t, err)
	}

	messages, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, m := range messages {
		require.Equal(t, contents[i], m.Content)
	}
}

func TestSendMessage_Invalid(t *testing.T) {
	t.Parallel()
	s, _, pub, users := bootstrapService(t, 2)
	ctx := context.Background()

	_, err := s.SendMessage(ctx, users[0], 1, "", "")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = s.SendMessage(ctx, users[0], 0, "hi", "")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = s.SendMessage(ctx, users[0], 999, "hi", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.Empty(t, pub.published)
}

func TestSendMessage_Whitespace(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 2)
	ctx := context.Background()

	c, _, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)

	msg, err := s.SendMessage(ctx, users[0], c.ID, "  ", "")
	require.NoError(t, err)
	require.Equal(t, "  ", msg.Content)
}

// stallingPointerStore blocks the first latest message update until released
type stallingPointerStore struct {
	*memstore.Store
	once     sync.Once
	entered  chan struct{}
	released chan struct{}
}

func (s *stallingPointerStore) SetLatestMessage(ctx context.Context, chat, message int64) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.released
	})
	return s.Store.SetLatestMessage(ctx, chat, message)
}

func TestSendMessage_ConcurrentSendsKeepOrder(t *testing.T) {
	t.Parallel()
	_, store, pub, users := bootstrapService(t, 2)
	ctx := context.Background()

	stalling := &stallingPointerStore{Store: store, entered: make(chan struct{}), released: make(chan struct{})}
	s := NewService(zap.NewNop().Sugar(), stalling, WithPublisher(pub))

	c, _, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)

	results := make(chan error, 2)
	go func() {
		_, err := s.SendMessage(ctx, users[0], c.ID, "first", "")
		results <- err
	}()
	<-stalling.entered

	secondDone := make(chan struct{})
	go func() {
		_, err := s.SendMessage(ctx, users[1], c.ID, "second", "")
		results <- err
		close(secondDone)
	}()

	select {
	case <-secondDone:
		require.FailNow(t, "second send finished while the first one was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(stalling.released)

	require.NoError(t, <-results)
	require.NoError(t, <-results)

	messages, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "first", messages[0].Content)
	require.Equal(t, "second", messages[1].Content)

	pub.mu.Lock()
	published := make([]storage.Message, 0, len(pub.published))
	for _, p := range pub.published {
		published = append(published, p.msg)
	}
	pub.mu.Unlock()
	require.Len(t, published, 2)
	require.Equal(t, messages[0].ID, published[0].ID)
	require.Equal(t, messages[1].ID, published[1].ID)

	chat, err := store.ChatByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, messages[1].ID, chat.LatestMessage.ID)
}

func TestSendMessage_PointerFailureTolerated(t *testing.T) {
	t.Parallel()
	_, store, pub, users := bootstrapService(t, 2)
	ctx := context.Background()

	s := NewService(zap.NewNop().Sugar(), failingPointerStore{store}, WithPublisher(pub))

	c, _, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)

	msg, err := s.SendMessage(ctx, users[0], c.ID, "hi", "")
	require.NoError(t, err)
	require.Len(t, pub.published, 1)

	messages, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, messages[0].ID)

	chats, err := s.FetchChats(ctx, users[0])
	require.NoError(t, err)
	require.Nil(t, chats[0].LatestMessage)
}

func TestListMessages_UnknownChat(t *testing.T) {
	t.Parallel()
	s, _, _, _ := bootstrapService(t, 0)

	_, err := s.ListMessages(context.Background(), 42)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
