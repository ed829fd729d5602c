package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/audit"
	"github.com/omnidesk/support-router/internal/bot"
	"github.com/omnidesk/support-router/internal/hub"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
	"github.com/omnidesk/support-router/pkg/metrics"
)

// ConversationManager owns the conversation lifecycle: find-or-create,
// claim, release, end, read receipts, and the expiry sweep.
type ConversationManager struct {
	conversations store.ConversationStore
	broadcaster   Broadcaster
	bots          *bot.Engine
	trail         *audit.Trail
	logger        *logger.Logger

	pendingTTL time.Duration
	keys       *keyedMutex
	now        func() time.Time
}

// NewConversationManager creates a conversation manager.
func NewConversationManager(
	conversations store.ConversationStore,
	broadcaster Broadcaster,
	bots *bot.Engine,
	trail *audit.Trail,
	pendingTTL time.Duration,
	log *logger.Logger,
) *ConversationManager {
	return &ConversationManager{
		conversations: conversations,
		broadcaster:   broadcaster,
		bots:          bots,
		trail:         trail,
		logger:        log,
		pendingTTL:    pendingTTL,
		keys:          newKeyedMutex(),
		now:           time.Now,
	}
}

// FindOrCreate returns the customer's open conversation on a channel, or
// creates a new pending one. The read-check-create sequence is serialized
// per (channel, customerID), so concurrent inbound events for the same
// customer cannot create two conversations.
func (m *ConversationManager) FindOrCreate(ctx context.Context, channel, customerID string) (*model.Conversation, bool, error) {
	key := channel + "/" + customerID
	m.keys.Lock(key)
	defer m.keys.Unlock(key)

	now := m.now()

	conv, err := m.conversations.FindOpenByCustomer(ctx, channel, customerID, now)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	conv = &model.Conversation{
		ID:                    uuid.Must(uuid.NewV7()).String(),
		Channel:               channel,
		ChannelConversationID: customerID,
		CustomerID:            customerID,
		Status:                model.ConversationPending,
		StartTime:             now,
		ExpiresAt:             now.Add(m.pendingTTL),
	}

	if err := m.conversations.Insert(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	m.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("channel", channel),
		zap.String("customer_id", customerID))

	m.recordEvent(ctx, conv.ID, "created", "", nil)

	return conv, true, nil
}

// Get retrieves a conversation by id.
func (m *ConversationManager) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return m.conversations.Get(ctx, id)
}

// List retrieves conversations matching the filter.
func (m *ConversationManager) List(ctx context.Context, filter store.ConversationFilter) (*model.ListConversationsResponse, error) {
	convs, total, err := m.conversations.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       filter.Offset+len(convs) < total,
	}, nil
}

// Claim takes exclusive ownership of a conversation for an agent. The store
// compare-and-swap guarantees at most one winner; losers get
// model.ErrAlreadyClaimed. Winning a claim discards the sender's bot state
// and tells every agent to retract any pending escalation, so the websocket
// accept and the REST claim behave identically.
func (m *ConversationManager) Claim(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	conv, err := m.conversations.Claim(ctx, conversationID, agentID, m.now())
	if err != nil {
		if errors.Is(err, model.ErrAlreadyClaimed) {
			metrics.ClaimConflicts.Inc()
		}
		return nil, err
	}

	m.logger.Info("conversation claimed",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID))

	m.bots.Reset(botKey(conv.Channel, conv.CustomerID))

	m.recordEvent(ctx, conversationID, "claimed", agentID, nil)
	m.broadcaster.BroadcastToConversation(conversationID, hub.NewEvent(
		model.EventConversationUpdated,
		model.ConversationUpdatedPayload{ConversationID: conversationID, UnreadCount: conv.UnreadCount},
	))
	m.broadcaster.BroadcastToAgents(hub.NewEvent(
		model.EventSessionClaimed,
		model.SessionClaimedPayload{ConversationID: conversationID, AgentID: agentID},
	))

	return conv, nil
}

// Release gives up ownership. Only the owning agent may release.
func (m *ConversationManager) Release(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	conv, err := m.conversations.Release(ctx, conversationID, agentID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("conversation released",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID))

	m.recordEvent(ctx, conversationID, "released", agentID, nil)
	m.broadcaster.BroadcastToConversation(conversationID, hub.NewEvent(
		model.EventConversationUpdated,
		model.ConversationUpdatedPayload{ConversationID: conversationID, UnreadCount: conv.UnreadCount},
	))

	return conv, nil
}

// End transitions a conversation to its terminal state. Requires ownership
// unless elevated (admin role).
func (m *ConversationManager) End(ctx context.Context, conversationID, agentID string, elevated bool) (*model.Conversation, error) {
	conv, err := m.conversations.End(ctx, conversationID, agentID, elevated, m.now())
	if err != nil {
		return nil, err
	}

	m.logger.Info("conversation ended",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID))

	// Ending is terminal for the sender's automated flow too; a later message
	// starts a fresh conversation with a fresh bot.
	m.bots.Reset(botKey(conv.Channel, conv.CustomerID))

	m.recordEvent(ctx, conversationID, "ended", agentID, nil)
	m.broadcaster.BroadcastToConversation(conversationID, hub.NewEvent(
		model.EventSessionEnded,
		model.SessionEndedPayload{ConversationID: conversationID, Status: conv.Status},
	))

	return conv, nil
}

// MarkRead resets the conversation's unread counter. Idempotent.
func (m *ConversationManager) MarkRead(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := m.conversations.MarkRead(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	m.broadcaster.BroadcastToConversation(conversationID, hub.NewEvent(
		model.EventConversationUpdated,
		model.ConversationUpdatedPayload{ConversationID: conversationID, UnreadCount: 0},
	))

	return conv, nil
}

// RecordLastMessage updates the conversation's last-message snapshot and,
// for inbound messages, bumps the unread counter. Broadcasting is left to
// the caller so events follow the store commit in order.
func (m *ConversationManager) RecordLastMessage(ctx context.Context, conversationID string, msg *model.Message) (*model.Conversation, error) {
	return m.conversations.SetLastMessage(ctx, conversationID, msg, m.now())
}

// ExpireStale ends every pending conversation whose expiry has passed.
// Failures are logged and skipped; the sweep never takes the process down.
func (m *ConversationManager) ExpireStale(ctx context.Context) int {
	now := m.now()

	expired, err := m.conversations.FindExpired(ctx, now)
	if err != nil {
		m.logger.Error("expiry sweep failed", zap.Error(err))
		return 0
	}

	ended := 0
	for _, conv := range expired {
		if _, err := m.conversations.EndExpired(ctx, conv.ID, now); err != nil {
			// An agent may have claimed it between the scan and the end.
			if !errors.Is(err, model.ErrNotFound) {
				m.logger.Warn("failed to expire conversation",
					zap.String("conversation_id", conv.ID),
					zap.Error(err))
			}
			continue
		}

		ended++
		metrics.ConversationsExpired.Inc()
		m.bots.Reset(botKey(conv.Channel, conv.CustomerID))
		m.recordEvent(ctx, conv.ID, "expired", "", nil)
		m.broadcaster.BroadcastToConversation(conv.ID, hub.NewEvent(
			model.EventConversationExpired,
			model.SessionEndedPayload{ConversationID: conv.ID, Status: model.ConversationEnded},
		))
	}

	if ended > 0 {
		m.logger.Info("expired stale conversations", zap.Int("count", ended))
	}
	return ended
}

// StartSweeper runs ExpireStale on a fixed interval until ctx is cancelled.
func (m *ConversationManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ExpireStale(ctx)
			}
		}
	}()
}

func (m *ConversationManager) recordEvent(ctx context.Context, conversationID, eventType, agentID string, detail map[string]any) {
	err := m.trail.RecordConversationEvent(ctx, audit.ConversationEvent{
		ConversationID: conversationID,
		Type:           eventType,
		AgentID:        agentID,
		Detail:         detail,
		At:             m.now(),
	})
	if err != nil {
		m.logger.Warn("failed to record audit event",
			zap.String("conversation_id", conversationID),
			zap.String("type", eventType),
			zap.Error(err))
	}
}
