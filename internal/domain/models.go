package domain

import "time"

// User represents an application user.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          *string   `db:"email" json:"email,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	AvatarURL      *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	IsOnline       bool      `db:"is_online" json:"is_online"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	LastSeen       time.Time `db:"last_seen" json:"last_seen"`
}

// Conversation represents a chat conversation (direct or group). The
// participant set is fixed at creation time; ParticipantHash is the canonical,
// order-independent key derived from it and is unique across conversations.
type Conversation struct {
	ID              int64      `db:"id" json:"id"`
	Name            *string    `db:"name" json:"name,omitempty"`
	IsGroup         bool       `db:"is_group" json:"is_group"`
	ParticipantHash string     `db:"participant_hash" json:"-"`
	LastMessageID   *int64     `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageAt   *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// ConversationParticipant represents the membership of a user in a conversation.
type ConversationParticipant struct {
	UserID         int64      `db:"user_id"`
	ConversationID int64      `db:"conversation_id"`
	JoinedAt       *time.Time `db:"joined_at"`
}

// Message kinds. CALL messages record that a call happened in the
// conversation; the live signaling itself is never persisted.
const (
	MessageKindText  = "TEXT"
	MessageKindImage = "IMAGE"
	MessageKindVideo = "VIDEO"
	MessageKindCall  = "CALL"
)

// Delivery statuses. Only the initial status is assigned by this backend;
// later transitions belong to a client-driven receipt flow.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusSeen      = "seen"
)

// Message represents a single chat message. Messages are append-only: once
// created they are never edited, deleted, or reordered.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversation_id"`
	SenderID       int64     `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	Kind           string    `db:"kind" json:"type"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ValidMessageKind reports whether kind is one of the known message kinds.
func ValidMessageKind(kind string) bool {
	switch kind {
	case MessageKindText, MessageKindImage, MessageKindVideo, MessageKindCall:
		return true
	}
	return false
}
