package chat

import (
	"context"
	"errors"

	"chat-backend/internal/apperr"
	"chat-backend/internal/storage"
	"chat-backend/internal/storage/zapadapter"
)

// SendMessage persists a message, moves the chat's latest message pointer to
// it and hands the resolved message to the publisher.
//
// Only the message insert decides the outcome. A failed pointer update is
// logged and left for the next successful send to correct.
//
// Sends to one chat are serialized from insert to publish, so the room sees
// messages in storage order.
func (s *Service) SendMessage(ctx context.Context, sender, chatID int64, content, origin string) (storage.Message, error) {
	if content == "" || chatID < 1 {
		return storage.Message{}, apperr.New(apperr.ErrInvalidArgument, "Invalid data passed into request")
	}

	logger := zapadapter.For(ctx, s.logger)

	unlock := s.sends.lock(chatID)
	defer unlock()

	msg, err := s.store.CreateMessage(ctx, chatID, sender, content)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageBadChat):
			return storage.Message{}, apperr.New(apperr.ErrNotFound, "Chat not found")
		case errors.Is(err, storage.ErrMessageBadAuthor):
			return storage.Message{}, apperr.New(apperr.ErrNotFound, "User not found")
		default:
			return storage.Message{}, apperr.Store("creating message", err)
		}
	}

	if err := s.store.SetLatestMessage(ctx, chatID, msg.ID); err != nil {
		logger.Warnf("Chat (id: %d) latest message not updated to %d: %v", chatID, msg.ID, err)
	}

	c, err := s.store.ChatByID(ctx, chatID)
	if err != nil {
		logger.Warnf("Chat (id: %d) not resolved for message %d: %v", chatID, msg.ID, err)
		c = storage.Chat{ID: chatID}
	}
	c.LatestMessage = nil
	msg.Chat = &c

	if s.publisher != nil {
		s.publisher.PublishMessage(msg, origin)
	}

	return msg, nil
}

// ListMessages returns the chat's messages oldest first
func (s *Service) ListMessages(ctx context.Context, chatID int64) ([]storage.Message, error) {
	if chatID < 1 {
		return nil, apperr.New(apperr.ErrInvalidArgument, "Invalid chat id")
	}

	messages, err := s.store.MessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, notFoundOr(err, "listing messages")
	}
	return messages, nil
}
