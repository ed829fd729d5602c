package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/middleware"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/service"
	"github.com/omnidesk/support-router/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	router      *service.MessageRouter
	suggestions *service.SuggestionService
	logger      *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	router *service.MessageRouter,
	suggestions *service.SuggestionService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		router:      router,
		suggestions: suggestions,
		logger:      log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	resp, err := h.router.ListMessages(r.Context(), conversationID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	agentID := middleware.GetUserID(ctx)

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.router.Send(ctx, conversationID, agentID, &req)
	if err != nil {
		// A failed delivery still persisted the message; return it so the
		// agent can see the failed state and retry explicitly.
		if errors.Is(err, model.ErrDeliveryFailed) && msg != nil {
			writeJSON(w, http.StatusBadGateway, msg)
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// Delete handles DELETE /api/v1/messages/:id
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID := chi.URLParam(r, "id")

	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.router.SoftDelete(ctx, messageID, middleware.GetUserID(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// Suggest handles POST /api/v1/conversations/:id/suggest
func (h *MessageHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	agentID := middleware.GetUserID(ctx)

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	suggestion, err := h.suggestions.Suggest(ctx, conversationID, agentID)
	if err != nil {
		if errors.Is(err, service.ErrSuggestionsDisabled) {
			writeError(w, http.StatusNotImplemented, "reply suggestions are not configured")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, suggestion)
}
