package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/hub"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/pkg/logger"
	"github.com/omnidesk/support-router/pkg/metrics"
)

// EscalationCoordinator resolves the hand-off from the bot to a human agent.
// Any number of agents may race to accept; the conversation manager's claim
// compare-and-swap picks exactly one winner.
type EscalationCoordinator struct {
	manager     *ConversationManager
	broadcaster Broadcaster
	logger      *logger.Logger
}

// NewEscalationCoordinator creates an escalation coordinator.
func NewEscalationCoordinator(
	manager *ConversationManager,
	broadcaster Broadcaster,
	log *logger.Logger,
) *EscalationCoordinator {
	return &EscalationCoordinator{
		manager:     manager,
		broadcaster: broadcaster,
		logger:      log,
	}
}

// Request announces a pending hand-off to every agent-capable session.
func (c *EscalationCoordinator) Request(ctx context.Context, conv *model.Conversation, excerpt string) {
	metrics.Escalations.Inc()

	c.logger.Info("escalation requested",
		zap.String("conversation_id", conv.ID),
		zap.String("channel", conv.Channel))

	c.broadcaster.BroadcastToAgents(hub.NewEvent(
		model.EventEscalationRequest,
		model.EscalationRequestPayload{
			ConversationID: conv.ID,
			CustomerID:     conv.CustomerID,
			Channel:        conv.Channel,
			Message:        excerpt,
		},
	))
}

// Accept routes an agent's acceptance through the claim CAS. The winner gets
// the conversation; the claim itself discards the bot state and broadcasts
// session_claimed so every other agent retracts the pending escalation.
// Losers receive model.ErrAlreadyClaimed and must not produce side effects.
func (c *EscalationCoordinator) Accept(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	return c.manager.Claim(ctx, conversationID, agentID)
}

// Decline records one agent passing on the request. It has no effect on
// other agents' visibility of the escalation.
func (c *EscalationCoordinator) Decline(conversationID, agentID string) {
	c.logger.Debug("escalation declined",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID))
}
