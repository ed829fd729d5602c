package model

import (
	"time"
)

// EventType identifies a real-time event emitted by the broadcast hub.
type EventType string

const (
	EventConnected           EventType = "connected"
	EventNewMessage          EventType = "new_message"
	EventConversationUpdated EventType = "conversation_updated"
	EventSessionEnded        EventType = "session_ended"
	EventConversationExpired EventType = "conversation_expired"
	EventEscalationRequest   EventType = "escalation_request"
	EventSessionClaimed      EventType = "session_claimed"
	EventUserTyping          EventType = "user_typing"
	EventUserOnline          EventType = "user_online"
	EventUserOffline         EventType = "user_offline"
)

// Event is the envelope delivered to connected sessions.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessagePayload accompanies new_message events.
type NewMessagePayload struct {
	ConversationID string   `json:"conversation_id"`
	Message        *Message `json:"message"`
}

// ConversationUpdatedPayload accompanies conversation_updated events.
type ConversationUpdatedPayload struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

// SessionEndedPayload accompanies session_ended and conversation_expired events.
type SessionEndedPayload struct {
	ConversationID string             `json:"conversation_id"`
	Status         ConversationStatus `json:"status"`
}

// EscalationRequestPayload accompanies escalation_request events.
type EscalationRequestPayload struct {
	ConversationID string `json:"conversation_id"`
	CustomerID     string `json:"customer_id"`
	Channel        string `json:"channel"`
	Message        string `json:"message"`
}

// SessionClaimedPayload accompanies session_claimed events.
type SessionClaimedPayload struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

// TypingPayload accompanies user_typing events.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresencePayload accompanies user_online and user_offline events.
type PresencePayload struct {
	UserID string `json:"user_id"`
}
