package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/service"
	"github.com/omnidesk/support-router/pkg/logger"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives inbound payloads from channel providers.
type WebhookHandler struct {
	router *service.MessageRouter
	logger *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(router *service.MessageRouter, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{router: router, logger: log}
}

// Receive handles POST /webhooks/:channel
//
// Providers retry on non-2xx responses, so payloads that will never succeed
// (status callbacks, malformed bodies) are acknowledged with 200 rather than
// retried forever. Only transient failures on our side and misrouted channel
// paths report errors.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	channelName := chi.URLParam(r, "channel")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	msg, err := h.router.Ingest(r.Context(), channelName, payload)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotAMessage):
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, model.ErrValidation):
			h.logger.Warn("ignoring malformed webhook payload",
				zap.String("channel", channelName),
				zap.Error(err))
			w.WriteHeader(http.StatusOK)
		default:
			h.logger.Error("webhook ingestion failed",
				zap.String("channel", channelName),
				zap.Error(err))
			writeDomainError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	})
}

// ResetBot handles POST /api/v1/bot/reset/:senderId
//
// Admin escape hatch for a sender whose automated flow got stuck.
func (h *WebhookHandler) ResetBot(w http.ResponseWriter, r *http.Request) {
	channelName := r.URL.Query().Get("channel")
	if channelName == "" {
		channelName = "webchat"
	}
	senderID := chi.URLParam(r, "senderId")
	if senderID == "" {
		writeError(w, http.StatusBadRequest, "sender id is required")
		return
	}

	h.router.ResetBot(channelName, senderID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
