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
	"github.com/omnidesk/support-router/internal/channel"
	"github.com/omnidesk/support-router/internal/hub"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
	"github.com/omnidesk/support-router/pkg/metrics"
)

// MessageRouter normalizes inbound events into canonical messages,
// deduplicates them, persists them, and decides whether the bot or a human
// agent owns the reply.
type MessageRouter struct {
	messages    store.MessageStore
	manager     *ConversationManager
	adapters    *channel.Registry
	bot         *bot.Engine
	escalations *EscalationCoordinator
	broadcaster Broadcaster
	trail       *audit.Trail
	logger      *logger.Logger

	// botWindow is how long after creation an unclaimed conversation is
	// served by the bot before becoming visible to agents.
	botWindow       time.Duration
	deliveryTimeout time.Duration
	now             func() time.Time
}

// NewMessageRouter creates a message router.
func NewMessageRouter(
	messages store.MessageStore,
	manager *ConversationManager,
	adapters *channel.Registry,
	botEngine *bot.Engine,
	escalations *EscalationCoordinator,
	broadcaster Broadcaster,
	trail *audit.Trail,
	botWindow, deliveryTimeout time.Duration,
	log *logger.Logger,
) *MessageRouter {
	return &MessageRouter{
		messages:        messages,
		manager:         manager,
		adapters:        adapters,
		bot:             botEngine,
		escalations:     escalations,
		broadcaster:     broadcaster,
		trail:           trail,
		logger:          log,
		botWindow:       botWindow,
		deliveryTimeout: deliveryTimeout,
		now:             time.Now,
	}
}

// botKey scopes bot state to a sender on one channel.
func botKey(channelName, customerID string) string {
	return channelName + "/" + customerID
}

// Ingest processes one inbound webhook payload. Redeliveries of the same
// (channel, channel_message_id) are absorbed: the existing record is
// returned and nothing else happens.
func (r *MessageRouter) Ingest(ctx context.Context, channelName string, payload []byte) (*model.Message, error) {
	adapter, err := r.adapters.Get(channelName)
	if err != nil {
		return nil, err
	}

	inbound, err := adapter.Normalize(payload)
	if err != nil {
		return nil, err
	}

	// Cheap duplicate check before touching the conversation. The unique
	// index remains the authority; this only avoids needless work on
	// obvious webhook retries.
	if existing, err := r.messages.GetByChannelID(ctx, channelName, inbound.ChannelMessageID); err == nil {
		metrics.MessagesDeduplicated.WithLabelValues(channelName).Inc()
		return existing, nil
	}

	conv, _, err := r.manager.FindOrCreate(ctx, channelName, inbound.CustomerID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	msg := &model.Message{
		ID:               uuid.Must(uuid.NewV7()).String(),
		Channel:          channelName,
		ChannelMessageID: inbound.ChannelMessageID,
		ConversationID:   conv.ID,
		Direction:        model.DirectionInbound,
		Content:          inbound.Content,
		Attachments:      inbound.Attachments,
		Sender:           model.Identity{ID: inbound.CustomerID, DisplayName: inbound.SenderDisplay},
		CreatedAt:        now,
	}
	msg.Transition(model.MessageDelivered, now)

	botEngaged := !conv.Claimed() && now.Sub(conv.StartTime) < r.botWindow
	if !conv.Claimed() && !botEngaged {
		msg.AddLabel(model.LabelUnclaimed)
	}

	if err := r.messages.Insert(ctx, msg); err != nil {
		if errors.Is(err, model.ErrDuplicateMessage) {
			// A concurrent delivery won the insert; return its record.
			metrics.MessagesDeduplicated.WithLabelValues(channelName).Inc()
			return r.messages.GetByChannelID(ctx, channelName, inbound.ChannelMessageID)
		}
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	metrics.MessagesIngested.WithLabelValues(channelName).Inc()
	r.recordMessage(ctx, msg)

	conv, err = r.manager.RecordLastMessage(ctx, conv.ID, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	r.broadcaster.BroadcastToConversation(conv.ID, hub.NewEvent(
		model.EventNewMessage,
		model.NewMessagePayload{ConversationID: conv.ID, Message: msg},
	))
	r.broadcaster.BroadcastToConversation(conv.ID, hub.NewEvent(
		model.EventConversationUpdated,
		model.ConversationUpdatedPayload{ConversationID: conv.ID, UnreadCount: conv.UnreadCount},
	))

	if botEngaged {
		r.runBot(ctx, conv, msg)
	}

	return msg, nil
}

// runBot forwards inbound content to the bot engine and acts on its reply:
// either an outbound response through the channel or an escalation hand-off.
func (r *MessageRouter) runBot(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	reply := r.bot.Handle(botKey(conv.Channel, conv.CustomerID), msg.Content)
	metrics.BotReplies.WithLabelValues(string(reply.Step)).Inc()

	if reply.Escalate {
		// The triggering message surfaces in the unclaimed queue alongside
		// the escalation broadcast.
		msg.AddLabel(model.LabelUnclaimed)
		if err := r.messages.Update(ctx, msg); err != nil {
			r.logger.Warn("failed to label escalated message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
		r.escalations.Request(ctx, conv, msg.Content)
	}

	if reply.Text == "" {
		return
	}

	sender := model.Identity{ID: "bot", DisplayName: "Support Bot"}
	if _, err := r.deliver(ctx, conv, reply.Text, nil, sender); err != nil {
		r.logger.Warn("bot reply delivery failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}
}

// Send persists and delivers an outbound agent message. The caller must own
// the conversation. On delivery failure the message is kept with status
// failed and model.ErrDeliveryFailed is returned; retrying is an explicit
// caller action, never automatic.
func (r *MessageRouter) Send(ctx context.Context, conversationID, agentID string, req *model.SendMessageRequest) (*model.Message, error) {
	conv, err := r.manager.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.AgentID != agentID {
		return nil, model.ErrNotOwner
	}

	return r.deliver(ctx, conv, req.Content, req.Attachments, model.Identity{ID: agentID})
}

// deliver persists an outbound message as queued, attempts channel delivery,
// and records the resulting transition.
func (r *MessageRouter) deliver(ctx context.Context, conv *model.Conversation, content string, attachments []model.Attachment, sender model.Identity) (*model.Message, error) {
	adapter, err := r.adapters.Get(conv.Channel)
	if err != nil {
		return nil, err
	}

	now := r.now()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Channel:        conv.Channel,
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Content:        content,
		Attachments:    attachments,
		Sender:         sender,
		Recipient:      model.Identity{ID: conv.CustomerID},
		CreatedAt:      now,
	}
	msg.Transition(model.MessageQueued, now)

	if err := r.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist outbound message: %w", err)
	}

	deliverCtx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
	nativeID, deliverErr := adapter.Deliver(deliverCtx, conv, content)
	cancel()

	if deliverErr != nil {
		msg.Transition(model.MessageFailed, r.now())
		if err := r.messages.Update(ctx, msg); err != nil {
			r.logger.Error("failed to record delivery failure",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
		metrics.DeliveryFailures.WithLabelValues(conv.Channel).Inc()
		r.recordMessage(ctx, msg)
		return msg, fmt.Errorf("%w: %v", model.ErrDeliveryFailed, deliverErr)
	}

	msg.ChannelMessageID = nativeID
	msg.Transition(model.MessageSent, r.now())
	if err := r.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to update outbound message: %w", err)
	}

	r.recordMessage(ctx, msg)

	conv, err = r.manager.RecordLastMessage(ctx, conv.ID, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	r.broadcaster.BroadcastToConversation(conv.ID, hub.NewEvent(
		model.EventNewMessage,
		model.NewMessagePayload{ConversationID: conv.ID, Message: msg},
	))

	return msg, nil
}

// ListMessages retrieves a conversation's messages in creation order.
func (r *MessageRouter) ListMessages(ctx context.Context, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	msgs, total, err := r.messages.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &model.ListMessagesResponse{
		Messages: msgs,
		Total:    total,
		HasMore:  offset+len(msgs) < total,
	}, nil
}

// SoftDelete marks a message deleted without removing it.
func (r *MessageRouter) SoftDelete(ctx context.Context, messageID, deletedBy string) (*model.Message, error) {
	msg, err := r.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return msg, nil
	}

	now := r.now()
	msg.IsDeleted = true
	msg.DeletedAt = &now
	msg.DeletedBy = deletedBy
	msg.Transition(model.MessageDeleted, now)

	if err := r.messages.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}

	r.recordMessage(ctx, msg)
	return msg, nil
}

// ResetBot discards the bot state for a sender on a channel.
func (r *MessageRouter) ResetBot(channelName, customerID string) {
	r.bot.Reset(botKey(channelName, customerID))
}

func (r *MessageRouter) recordMessage(ctx context.Context, msg *model.Message) {
	if err := r.trail.RecordMessage(ctx, msg); err != nil {
		r.logger.Warn("failed to record message in audit trail",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}
