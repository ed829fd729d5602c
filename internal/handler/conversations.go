package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omnidesk/support-router/internal/middleware"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/service"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	manager *service.ConversationManager
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(manager *service.ConversationManager, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		manager: manager,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := store.ConversationFilter{
		Status:  model.ConversationStatus(r.URL.Query().Get("status")),
		Channel: r.URL.Query().Get("channel"),
		Limit:   20,
	}

	if r.URL.Query().Get("mine") == "true" {
		filter.AgentID = middleware.GetUserID(ctx)
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			filter.Limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	resp, err := h.manager.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list conversations")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.Get(r.Context(), conversationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Claim handles POST /api/v1/conversations/:id/claim
func (h *ConversationHandler) Claim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	agentID := middleware.GetUserID(ctx)

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.Claim(ctx, conversationID, agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Release handles POST /api/v1/conversations/:id/release
func (h *ConversationHandler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	agentID := middleware.GetUserID(ctx)

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.Release(ctx, conversationID, agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// End handles POST /api/v1/conversations/:id/end
func (h *ConversationHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")
	agentID := middleware.GetUserID(ctx)
	elevated := middleware.GetRole(ctx) == model.RoleAdmin

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.End(ctx, conversationID, agentID, elevated)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// MarkRead handles POST /api/v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.MarkRead(r.Context(), conversationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
