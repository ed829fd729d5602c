package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omnidesk/support-router/internal/model"
)

// EmailChannel is the channel name for the email adapter.
const EmailChannel = "email"

// EmailAdapter handles inbound-parse email webhooks (JSON payloads from the
// mail provider's inbound pipeline).
type EmailAdapter struct {
	transport Transport
}

// NewEmailAdapter creates an email adapter with the given outbound transport.
func NewEmailAdapter(transport Transport) *EmailAdapter {
	return &EmailAdapter{transport: transport}
}

// Name returns the channel name.
func (a *EmailAdapter) Name() string {
	return EmailChannel
}

type emailPayload struct {
	// Event is set on provider callbacks (bounce, delivered, spam report)
	// instead of inbound mail.
	Event     string `json:"event,omitempty"`
	MessageID string `json:"message_id"`
	From      struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	} `json:"from"`
	Subject     string `json:"subject,omitempty"`
	Text        string `json:"text"`
	Attachments []struct {
		URL         string `json:"url"`
		Filename    string `json:"filename,omitempty"`
		ContentType string `json:"content_type,omitempty"`
	} `json:"attachments,omitempty"`
}

// Normalize parses an inbound-parse JSON payload.
func (a *EmailAdapter) Normalize(payload []byte) (*Inbound, error) {
	var p emailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed email payload", model.ErrValidation)
	}

	if p.Event != "" {
		return nil, model.ErrNotAMessage
	}

	if p.MessageID == "" || p.From.Email == "" {
		return nil, fmt.Errorf("%w: missing message_id or from", model.ErrValidation)
	}

	content := p.Text
	if p.Subject != "" {
		content = p.Subject + "\n\n" + p.Text
	}
	if strings.TrimSpace(content) == "" && len(p.Attachments) == 0 {
		return nil, fmt.Errorf("%w: empty email body", model.ErrValidation)
	}

	inbound := &Inbound{
		ChannelMessageID: p.MessageID,
		CustomerID:       strings.ToLower(p.From.Email),
		SenderDisplay:    p.From.Name,
		Content:          content,
	}

	for _, att := range p.Attachments {
		inbound.Attachments = append(inbound.Attachments, model.Attachment{
			Type: mediaType(att.ContentType),
			URL:  att.URL,
			Name: att.Filename,
		})
	}

	return inbound, nil
}

// Deliver sends an outbound reply through the email transport.
func (a *EmailAdapter) Deliver(ctx context.Context, conv *model.Conversation, content string) (string, error) {
	nativeID, err := a.transport(ctx, conv, content)
	if err != nil {
		return "", fmt.Errorf("%w: email: %v", model.ErrDeliveryFailed, err)
	}
	return nativeID, nil
}
