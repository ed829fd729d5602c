// Package store provides durable repositories for conversations, messages
// and users. Two implementations exist: MongoDB for production and an
// in-memory store with identical semantics for tests and local development.
package store

import (
	"context"
	"time"

	"github.com/omnidesk/support-router/internal/model"
)

// ConversationFilter narrows a conversation listing.
type ConversationFilter struct {
	Status  model.ConversationStatus
	AgentID string
	Channel string
	Limit   int
	Offset  int
}

// ConversationStore is the repository for conversation records.
//
// Claim, Release, End, MarkRead and SetLastMessage are atomic updates: the
// store applies the guard and the mutation in a single operation, so the
// compare-and-swap on agent_id is the serialization point for claim races.
type ConversationStore interface {
	Insert(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// FindOpenByCustomer returns the customer's current conversation on a
	// channel: active, or pending and not yet expired. Returns
	// model.ErrNotFound when no such conversation exists.
	FindOpenByCustomer(ctx context.Context, channel, customerID string, now time.Time) (*model.Conversation, error)

	// Claim sets agent_id only if it is currently unset. Returns
	// model.ErrAlreadyClaimed when another agent holds the conversation.
	Claim(ctx context.Context, id, agentID string, at time.Time) (*model.Conversation, error)

	// Release clears agent_id only if the caller currently holds it.
	// Returns model.ErrNotOwner otherwise.
	Release(ctx context.Context, id, agentID string) (*model.Conversation, error)

	// End transitions a non-terminal conversation to ended and clears the
	// agent. Unless elevated, the caller must be the owning agent.
	End(ctx context.Context, id, agentID string, elevated bool, at time.Time) (*model.Conversation, error)

	// MarkRead resets the unread counter. Idempotent.
	MarkRead(ctx context.Context, id string) (*model.Conversation, error)

	// SetLastMessage records the latest message and bumps the unread counter.
	SetLastMessage(ctx context.Context, id string, msg *model.Message, at time.Time) (*model.Conversation, error)

	List(ctx context.Context, filter ConversationFilter) ([]model.Conversation, int, error)

	// FindExpired returns pending conversations whose expiry has passed.
	FindExpired(ctx context.Context, now time.Time) ([]model.Conversation, error)

	// EndExpired ends a conversation only while it is still pending and
	// expired, so the sweep cannot end a conversation claimed after the
	// expiry scan. Returns model.ErrNotFound when the guard no longer holds.
	EndExpired(ctx context.Context, id string, now time.Time) (*model.Conversation, error)
}

// MessageStore is the repository for message records. Uniqueness of
// (channel, channel_message_id) is enforced here, not by callers: Insert
// returns model.ErrDuplicateMessage when the idempotency key already exists.
// Outbound messages queue with an empty channel_message_id, which is exempt
// from the uniqueness guard until delivery assigns the native id.
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	GetByChannelID(ctx context.Context, channel, channelMessageID string) (*model.Message, error)
	Update(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error)
}

// UserStore is the repository for agent accounts.
type UserStore interface {
	Get(ctx context.Context, id string) (*model.User, error)
	Upsert(ctx context.Context, user *model.User) error
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
}
