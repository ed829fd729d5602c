package channel

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/omnidesk/support-router/internal/model"
)

// WhatsAppChannel is the channel name for the WhatsApp adapter.
const WhatsAppChannel = "whatsapp"

// WhatsAppAdapter handles Twilio-style WhatsApp webhooks. Inbound payloads
// arrive form-encoded; message webhooks carry Body and MessageSid, status
// callbacks carry MessageStatus instead and are not messages.
type WhatsAppAdapter struct {
	transport Transport
}

// NewWhatsAppAdapter creates a WhatsApp adapter with the given outbound transport.
func NewWhatsAppAdapter(transport Transport) *WhatsAppAdapter {
	return &WhatsAppAdapter{transport: transport}
}

// Name returns the channel name.
func (a *WhatsAppAdapter) Name() string {
	return WhatsAppChannel
}

// Normalize parses a form-encoded WhatsApp webhook payload.
func (a *WhatsAppAdapter) Normalize(payload []byte) (*Inbound, error) {
	params, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed form payload", model.ErrValidation)
	}

	if params.Get("MessageStatus") != "" {
		return nil, model.ErrNotAMessage
	}

	sid := params.Get("MessageSid")
	from := params.Get("From")
	if sid == "" || from == "" {
		return nil, fmt.Errorf("%w: missing MessageSid or From", model.ErrValidation)
	}

	inbound := &Inbound{
		ChannelMessageID: sid,
		CustomerID:       strings.TrimPrefix(from, "whatsapp:"),
		SenderDisplay:    params.Get("ProfileName"),
		Content:          params.Get("Body"),
	}

	if n, err := strconv.Atoi(params.Get("NumMedia")); err == nil {
		for i := 0; i < n; i++ {
			mediaURL := params.Get(fmt.Sprintf("MediaUrl%d", i))
			if mediaURL == "" {
				continue
			}
			inbound.Attachments = append(inbound.Attachments, model.Attachment{
				Type: mediaType(params.Get(fmt.Sprintf("MediaContentType%d", i))),
				URL:  mediaURL,
			})
		}
	}

	if inbound.Content == "" && len(inbound.Attachments) == 0 {
		return nil, fmt.Errorf("%w: empty message", model.ErrValidation)
	}

	return inbound, nil
}

// Deliver sends outbound text through the WhatsApp transport.
func (a *WhatsAppAdapter) Deliver(ctx context.Context, conv *model.Conversation, content string) (string, error) {
	nativeID, err := a.transport(ctx, conv, content)
	if err != nil {
		return "", fmt.Errorf("%w: whatsapp: %v", model.ErrDeliveryFailed, err)
	}
	return nativeID, nil
}

func mediaType(contentType string) model.AttachmentType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return model.AttachmentImage
	case strings.HasPrefix(contentType, "video/"):
		return model.AttachmentVideo
	case strings.HasPrefix(contentType, "audio/"):
		return model.AttachmentAudio
	default:
		return model.AttachmentFile
	}
}
