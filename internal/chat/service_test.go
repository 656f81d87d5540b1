package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/internal/apperr"
	"chat-backend/internal/storage"
	"chat-backend/internal/storage/memstore"
	mytesting "chat-backend/internal/testing"
)

type publishedMessage struct {
	msg    storage.Message
	origin string
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
}

func (p *recordingPublisher) PublishMessage(msg storage.Message, origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{msg: msg, origin: origin})
}

// failingPointerStore loses every latest message update
type failingPointerStore struct {
	*memstore.Store
}

func (failingPointerStore) SetLatestMessage(context.Context, int64, int64) error {
	return errors.New("connection reset")
}

func bootstrapService(t *testing.T, users int) (*Service, *memstore.Store, *recordingPublisher, []int64) {
	logger := zap.NewNop().Sugar()
	store := memstore.New(logger)
	pub := &recordingPublisher{}

	ids := make([]int64, 0, users)
	for i := 0; i < users; i++ {
		u, err := store.CreateUser(context.Background(), mytesting.RandString(), mytesting.RandEmail(), "hash")
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}

	return NewService(logger, store, WithPublisher(pub)), store, pub, ids
}

func TestAccessDirectChat(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 2)
	ctx := context.Background()

	c, created, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, c.IsGroup)
	require.Len(t, c.Users, 2)

	again, created, err := s.AccessDirectChat(ctx, users[0], users[1])
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, c.ID, again.ID)

	pair := mytesting.ReverseIDs(users)
	reversed, created, err := s.AccessDirectChat(ctx, pair[0], pair[1])
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, c.ID, reversed.ID)
}

func TestAccessDirectChat_MissingUser(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 1)

	_, _, err := s.AccessDirectChat(context.Background(), users[0], 0)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = s.AccessDirectChat(context.Background(), users[0], 999)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAccessDirectChat_Concurrent(t *testing.T) {
	t.Parallel()
	s, store, _, users := bootstrapService(t, 2)
	ctx := context.Background()

	const n = 16
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := s.AccessDirectChat(ctx, users[i%2], users[(i+1)%2])
			ids[i], errs[i] = c.ID, err
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], id)
	}

	chats, err := store.ChatsByUserID(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, chats, 1)
}

func TestFetchChats_OrderedByActivity(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 4)
	ctx := context.Background()

	var chatIDs []int64
	for _, pair := range mytesting.PairsWithFirst(users) {
		c, _, err := s.AccessDirectChat(ctx, pair[0], pair[1])
		require.NoError(t, err)
		chatIDs = append(chatIDs, c.ID)
	}

	chats, err := s.FetchChats(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, chats, 3)
	require.Equal(t, chatIDs[2], chats[0].ID)

	msg, err := s.SendMessage(ctx, users[0], chatIDs[0], "hi", "")
	require.NoError(t, err)

	chats, err = s.FetchChats(ctx, users[0])
	require.NoError(t, err)
	require.Equal(t, chatIDs[0], chats[0].ID)
	require.Equal(t, msg.ID, chats[0].LatestMessage.ID)
	require.Equal(t, users[0], chats[0].LatestMessage.Sender.ID)

	chats, err = s.FetchChats(ctx, users[1])
	require.NoError(t, err)
	require.Len(t, chats, 1)
}

func TestCreateGroupChat(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 3)
	ctx := context.Background()

	c, err := s.CreateGroupChat(ctx, users[0], "friends", users[1:])
	require.NoError(t, err)
	require.True(t, c.IsGroup)
	require.Equal(t, "friends", c.Name)
	require.Len(t, c.Users, 3)
	require.Equal(t, users[0], c.GroupAdmin.ID)
}

func TestCreateGroupChat_Invalid(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 3)
	ctx := context.Background()

	_, err := s.CreateGroupChat(ctx, users[0], "", users[1:])
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = s.CreateGroupChat(ctx, users[0], "friends", nil)
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = s.CreateGroupChat(ctx, users[0], "friends", users[1:2])
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// the creator does not count towards the two required members
	_, err = s.CreateGroupChat(ctx, users[0], "friends", []int64{users[0], users[1]})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = s.CreateGroupChat(ctx, users[0], "friends", []int64{users[1], 999})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGroupMembership(t *testing.T) {
	t.Parallel()
	s, _, _, users := bootstrapService(t, 4)
	ctx := context.Background()

	g, err := s.CreateGroupChat(ctx, users[0], "friends", users[1:3])
	require.NoError(t, err)

	c, err := s.RenameGroupChat(ctx, g.ID, "family")
	require.NoError(t, err)
	require.Equal(t, "family", c.Name)

	c, err = s.AddMember(ctx, g.ID, users[3])
	require.NoError(t, err)
	require.Len(t, c.Users, 4)

	c, err = s.AddMember(ctx, g.ID, users[3])
	require.NoError(t, err)
	require.Len(t, c.Users, 4)

	for _, u := range users[1:] {
		c, err = s.RemoveMember(ctx, g.ID, u)
		require.NoError(t, err)
	}
	require.Len(t, c.Users, 1)

	_, err = s.RenameGroupChat(ctx, 999, "x")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.AddMember(ctx, 999, users[1])
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.RemoveMember(ctx, 999, users[1])
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
