// Package model defines data structures for the support router.
package model

import (
	"time"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationPending ConversationStatus = "pending"
	ConversationActive  ConversationStatus = "active"
	ConversationEnded   ConversationStatus = "ended"
)

// Conversation represents a customer conversation on one channel.
type Conversation struct {
	ID                    string `json:"id" bson:"_id"`
	Channel               string `json:"channel" bson:"channel"`
	ChannelConversationID string `json:"channel_conversation_id" bson:"channel_conversation_id"`
	CustomerID            string `json:"customer_id" bson:"customer_id"`

	// AgentID is empty while the conversation is unclaimed. Locked mirrors
	// AgentID presence and is kept as an explicit flag so concurrent writers
	// never have to infer claim state from a possibly stale AgentID read.
	AgentID string             `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	Locked  bool               `json:"locked" bson:"locked"`
	Status  ConversationStatus `json:"status" bson:"status"`

	StartTime time.Time  `json:"start_time" bson:"start_time"`
	ExpiresAt time.Time  `json:"expires_at" bson:"expires_at"`
	EndTime   *time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty" bson:"last_message_at,omitempty"`
	LastMessage   *Message   `json:"last_message,omitempty" bson:"last_message,omitempty"`
	UnreadCount   int        `json:"unread_count" bson:"unread_count"`
}

// Claimed reports whether an agent currently owns the conversation.
func (c *Conversation) Claimed() bool {
	return c.AgentID != ""
}

// Expired reports whether a pending conversation has passed its expiry.
func (c *Conversation) Expired(now time.Time) bool {
	return c.Status == ConversationPending && !c.ExpiresAt.After(now)
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
