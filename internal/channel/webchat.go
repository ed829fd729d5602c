package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omnidesk/support-router/internal/model"
)

// WebChatChannel is the channel name for the website widget adapter.
const WebChatChannel = "webchat"

// WebChatAdapter handles messages posted by the embedded website widget.
type WebChatAdapter struct {
	transport Transport
}

// NewWebChatAdapter creates a webchat adapter with the given outbound transport.
func NewWebChatAdapter(transport Transport) *WebChatAdapter {
	return &WebChatAdapter{transport: transport}
}

// Name returns the channel name.
func (a *WebChatAdapter) Name() string {
	return WebChatChannel
}

type webChatPayload struct {
	MessageID   string `json:"message_id"`
	VisitorID   string `json:"visitor_id"`
	VisitorName string `json:"visitor_name,omitempty"`
	Text        string `json:"text"`
	// Typing notifications share the widget's webhook but are not messages.
	Typing      bool `json:"typing,omitempty"`
	Attachments []struct {
		Type string `json:"type,omitempty"`
		URL  string `json:"url"`
		Name string `json:"name,omitempty"`
	} `json:"attachments,omitempty"`
}

// Normalize parses a widget JSON payload.
func (a *WebChatAdapter) Normalize(payload []byte) (*Inbound, error) {
	var p webChatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed webchat payload", model.ErrValidation)
	}

	if p.Typing {
		return nil, model.ErrNotAMessage
	}

	if p.MessageID == "" || p.VisitorID == "" {
		return nil, fmt.Errorf("%w: missing message_id or visitor_id", model.ErrValidation)
	}
	if strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0 {
		return nil, fmt.Errorf("%w: empty message", model.ErrValidation)
	}

	inbound := &Inbound{
		ChannelMessageID: p.MessageID,
		CustomerID:       p.VisitorID,
		SenderDisplay:    p.VisitorName,
		Content:          p.Text,
	}

	for _, att := range p.Attachments {
		attType := model.AttachmentType(att.Type)
		switch attType {
		case model.AttachmentImage, model.AttachmentVideo, model.AttachmentAudio,
			model.AttachmentFile, model.AttachmentLocation:
		default:
			attType = model.AttachmentFile
		}
		inbound.Attachments = append(inbound.Attachments, model.Attachment{
			Type: attType,
			URL:  att.URL,
			Name: att.Name,
		})
	}

	return inbound, nil
}

// Deliver pushes outbound text to the widget transport.
func (a *WebChatAdapter) Deliver(ctx context.Context, conv *model.Conversation, content string) (string, error) {
	nativeID, err := a.transport(ctx, conv, content)
	if err != nil {
		return "", fmt.Errorf("%w: webchat: %v", model.ErrDeliveryFailed, err)
	}
	return nativeID, nil
}
