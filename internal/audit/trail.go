package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/omnidesk/support-router/internal/model"
)

const (
	// StreamName is the name of the audit stream.
	StreamName = "SUPPORT_AUDIT"

	// SubjectPrefix is the prefix for all audit subjects.
	SubjectPrefix = "support"
)

// Trail appends messages and conversation events to the audit stream.
// A nil Trail is valid and records nothing, so the router runs without NATS
// in development.
type Trail struct {
	client *Client
}

// NewTrail creates a trail over the given client.
func NewTrail(client *Client) *Trail {
	return &Trail{client: client}
}

// EnsureStream creates the audit stream if it does not exist. Deletes and
// purges are denied so the trail stays append-only.
func (t *Trail) EnsureStream(ctx context.Context) error {
	if t == nil {
		return nil
	}

	js := t.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Append-only trail of support messages and conversation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create audit stream: %w", err)
	}

	return nil
}

// messageSubject returns the subject for a message record.
func messageSubject(conversationID string, direction model.Direction) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, direction)
}

// eventSubject returns the subject for a conversation event record.
func eventSubject(conversationID, eventType string) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, eventType)
}

// RecordMessage appends a message snapshot to the trail. Called after every
// message status transition, so the trail carries the full status history.
func (t *Trail) RecordMessage(ctx context.Context, msg *model.Message) error {
	if t == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = t.client.JetStream().Publish(ctx, messageSubject(msg.ConversationID, msg.Direction), data)
	if err != nil {
		return fmt.Errorf("failed to publish message record: %w", err)
	}
	return nil
}

// ConversationEvent is one audited lifecycle transition.
type ConversationEvent struct {
	ConversationID string         `json:"conversation_id"`
	Type           string         `json:"type"`
	AgentID        string         `json:"agent_id,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	At             time.Time      `json:"at"`
}

// RecordConversationEvent appends a lifecycle event to the trail.
func (t *Trail) RecordConversationEvent(ctx context.Context, event ConversationEvent) error {
	if t == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = t.client.JetStream().Publish(ctx, eventSubject(event.ConversationID, event.Type), data)
	if err != nil {
		return fmt.Errorf("failed to publish event record: %w", err)
	}
	return nil
}
