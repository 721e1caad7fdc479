// Package protocol defines the realtime wire protocol: event names shared by
// client and server, and the JSON payloads exchanged over a connection.
// Signaling payloads (offer, answer, candidate) are opaque to the server and
// relayed verbatim.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventJoinConversation = "join-conversation"
	EventMessageSend      = "message-send"
	EventCallRinging      = "call-ringing"
	EventCallAccepted     = "call-accepted"
	EventCallInitiate     = "call-initiate"
	EventCallAnswer       = "call-answer"
	EventCallReject       = "call-reject"
	EventCallCandidate    = "call-candidate"
	EventCallEnd          = "call-end"
)

// Server -> client events. Call relays mirror the client events, with the
// resolved sender identity attached.
const (
	EventMessageReceive = "message-receive"
	EventCallIncoming   = "call-incoming"
	EventCallAnswered   = "call-answered"
	EventCallRejected   = "call-rejected"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
	EventError          = "error"
)

// ClientEvent is the envelope read from a connection. Only the fields
// relevant to the named event are populated.
type ClientEvent struct {
	Event          string          `json:"event"`
	ConversationID int64           `json:"conversationId,omitempty"`
	Content        string          `json:"content,omitempty"`
	Kind           string          `json:"type,omitempty"`
	CallID         string          `json:"callId,omitempty"`
	ToUserID       int64           `json:"toUserId,omitempty"`
	IsVideo        bool            `json:"isVideo,omitempty"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// MessageReceive is broadcast to a conversation room once a message has been
// durably persisted. It carries the resolved sender profile so clients can
// render it without a further lookup, and the server-assigned id so senders
// can reconcile optimistic local state.
type MessageReceive struct {
	Event           string    `json:"event"`
	ID              int64     `json:"id"`
	ConversationID  int64     `json:"conversationId"`
	SenderID        int64     `json:"senderId"`
	SenderUsername  string    `json:"senderUsername"`
	SenderAvatarURL *string   `json:"senderAvatarUrl,omitempty"`
	Content         string    `json:"content"`
	Kind            string    `json:"type"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CallEvent is the server -> client form of every call-signaling relay. The
// CallID is assigned by the server at ringing and threads through the whole
// attempt, disambiguating concurrent calls in the same room.
type CallEvent struct {
	Event          string          `json:"event"`
	ConversationID int64           `json:"conversationId"`
	CallID         string          `json:"callId"`
	FromUserID     int64           `json:"fromUserId"`
	FromUsername   string          `json:"fromUsername,omitempty"`
	ToUserID       int64           `json:"toUserId,omitempty"`
	IsVideo        bool            `json:"isVideo,omitempty"`
	Offer          json.RawMessage `json:"offer,omitempty"`
	Answer         json.RawMessage `json:"answer,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

// Presence announces a user's connect/disconnect to all clients.
type Presence struct {
	Event    string `json:"event"`
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// ErrorEvent reports a failed client event back to its originator only.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
