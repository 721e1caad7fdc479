package service

import (
	"context"
	"fmt"

	"social_backend/internal/domain"
	"social_backend/internal/protocol"
)

const maxMessageRunes = 5000

// Broadcaster fans a payload out to every connection joined to a room. The
// message pipeline only ever needs whole-room delivery; the realtime layer
// provides the implementation, and tests substitute an in-memory fake.
type Broadcaster interface {
	ToRoom(roomID int64, payload any)
}

// MessageService is the message ingest and fan-out pipeline: it validates the
// sender's membership, persists the message together with the conversation's
// last-message pointer, and only then broadcasts the persisted record to the
// room, sender's own connections included.
type MessageService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	users         domain.UserRepository
	broadcaster   Broadcaster
}

func NewMessageService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	users domain.UserRepository,
	broadcaster Broadcaster,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		users:         users,
		broadcaster:   broadcaster,
	}
}

// SendMessage runs the full pipeline for one send. The sender identity comes
// from the authenticated connection, never from the client payload. Any
// failure before the commit aborts the send with nothing broadcast; a receiver
// can never observe a message the store does not durably hold.
func (s *MessageService) SendMessage(
	ctx context.Context,
	senderID int64,
	conversationID int64,
	content string,
	kind string,
) (*protocol.MessageReceive, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if len([]rune(content)) > maxMessageRunes {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, maxMessageRunes)
	}
	if kind == "" {
		kind = domain.MessageKindText
	}
	if !domain.ValidMessageKind(kind) {
		return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidInput, kind)
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, domain.ErrForbidden
	}

	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		Status:         domain.MessageStatusSent,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	event := s.toReceiveEvent(ctx, msg)
	s.broadcaster.ToRoom(conversationID, event)
	return event, nil
}

// ListMessages returns a conversation's history, ascending by creation time.
// Only participants may read it.
func (s *MessageService) ListMessages(
	ctx context.Context,
	conversationID int64,
	userID int64,
) ([]*domain.Message, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	isParticipant, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !isParticipant {
		return nil, domain.ErrForbidden
	}
	return s.messages.ListForConversation(ctx, conversationID)
}

// IsParticipant reports whether the user belongs to the conversation; the
// realtime layer uses it to gate room joins.
func (s *MessageService) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	return s.participants.IsParticipant(ctx, conversationID, userID)
}

func (s *MessageService) toReceiveEvent(ctx context.Context, m *domain.Message) *protocol.MessageReceive {
	event := &protocol.MessageReceive{
		Event:          protocol.EventMessageReceive,
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Kind:           m.Kind,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
	if u, err := s.users.GetByID(ctx, m.SenderID); err == nil && u != nil {
		event.SenderUsername = u.Username
		event.SenderAvatarURL = u.AvatarURL
	}
	return event
}
