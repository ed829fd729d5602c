package model

import (
	"time"
)

// Direction indicates whether a message travels toward or away from the customer.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "queued"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
	MessageDeleted   MessageStatus = "deleted"
)

// Label is a workflow tag attached to a message.
type Label string

const (
	LabelUnclaimed Label = "unclaimed"
	LabelPriority  Label = "priority"
	LabelSpam      Label = "spam"
	LabelResolved  Label = "resolved"
	LabelFollowUp  Label = "follow_up"
)

// AttachmentType classifies a message attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentFile     AttachmentType = "file"
	AttachmentLocation AttachmentType = "location"
)

// Attachment is a typed media reference carried by a message.
type Attachment struct {
	Type AttachmentType `json:"type" bson:"type"`
	URL  string         `json:"url" bson:"url"`
	Name string         `json:"name,omitempty" bson:"name,omitempty"`
}

// Identity is a channel-scoped participant identity.
type Identity struct {
	ID          string `json:"id" bson:"id"`
	DisplayName string `json:"display_name,omitempty" bson:"display_name,omitempty"`
}

// StatusChange is one entry in a message's append-only status history.
type StatusChange struct {
	Status MessageStatus `json:"status" bson:"status"`
	At     time.Time     `json:"at" bson:"at"`
}

// Message represents a single message within a conversation.
type Message struct {
	ID               string `json:"id" bson:"_id"`
	Channel          string `json:"channel" bson:"channel"`
	ChannelMessageID string `json:"channel_message_id" bson:"channel_message_id"`
	ConversationID   string `json:"conversation_id" bson:"conversation_id"`

	Direction Direction     `json:"direction" bson:"direction"`
	Status    MessageStatus `json:"status" bson:"status"`
	// StatusHistory records every status transition. Entries are appended,
	// never rewritten.
	StatusHistory []StatusChange `json:"status_history" bson:"status_history"`

	Content     string       `json:"content" bson:"content"`
	Attachments []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`

	Sender    Identity `json:"sender" bson:"sender"`
	Recipient Identity `json:"recipient,omitempty" bson:"recipient,omitempty"`

	Labels []Label `json:"labels,omitempty" bson:"labels,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`

	// Soft delete. Messages are never physically removed.
	IsDeleted bool       `json:"is_deleted,omitempty" bson:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty" bson:"deleted_by,omitempty"`
}

// Transition moves the message to a new status and appends a history entry.
func (m *Message) Transition(status MessageStatus, at time.Time) {
	m.Status = status
	m.StatusHistory = append(m.StatusHistory, StatusChange{Status: status, At: at})
}

// HasLabel reports whether the message carries the given label.
func (m *Message) HasLabel(label Label) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AddLabel attaches a label if not already present.
func (m *Message) AddLabel(label Label) {
	if !m.HasLabel(label) {
		m.Labels = append(m.Labels, label)
	}
}

// RemoveLabel detaches a label if present.
func (m *Message) RemoveLabel(label Label) {
	for i, l := range m.Labels {
		if l == label {
			m.Labels = append(m.Labels[:i], m.Labels[i+1:]...)
			return
		}
	}
}

// SendMessageRequest is the request body for an agent outbound send.
type SendMessageRequest struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ListMessagesResponse is the response for listing conversation messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}
