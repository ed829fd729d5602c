package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/hub"
	"github.com/omnidesk/support-router/internal/middleware"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/service"
	"github.com/omnidesk/support-router/pkg/logger"
)

const frameTimeout = 10 * time.Second

// WSHandler upgrades authenticated clients to websocket sessions.
type WSHandler struct {
	hub         *hub.Hub
	escalations *service.EscalationCoordinator
	upgrader    websocket.Upgrader
	logger      *logger.Logger
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(h *hub.Hub, escalations *service.EscalationCoordinator, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub:         h,
		escalations: escalations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens at the cors middleware; the
			// upgrade itself accepts any origin that got this far.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Serve handles GET /ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	role := middleware.GetRole(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	session := hub.NewSession(h.hub, conn, userID, role)
	session.Run(h.handleFrame)
}

func (h *WSHandler) handleFrame(s *hub.Session, f hub.Frame) {
	switch f.Type {
	case hub.FrameJoinConversation:
		if f.ConversationID != "" {
			h.hub.JoinConversation(f.ConversationID, s)
		}

	case hub.FrameLeaveConversation:
		if f.ConversationID != "" {
			h.hub.LeaveConversation(f.ConversationID, s)
		}

	case hub.FrameTyping:
		if f.ConversationID == "" {
			return
		}
		h.hub.BroadcastToConversation(f.ConversationID, hub.NewEvent(
			model.EventUserTyping,
			model.TypingPayload{
				ConversationID: f.ConversationID,
				UserID:         s.UserID,
				IsTyping:       f.IsTyping,
			},
		))

	case hub.FrameAcceptEscalation:
		if f.ConversationID == "" || !s.Role.AgentCapable() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		defer cancel()
		if _, err := h.escalations.Accept(ctx, f.ConversationID, s.UserID); err != nil {
			// Losing the race is normal when several agents accept at once.
			if !errors.Is(err, model.ErrAlreadyClaimed) {
				h.logger.Error("failed to accept escalation",
					zap.String("conversation_id", f.ConversationID),
					zap.String("agent_id", s.UserID),
					zap.Error(err))
			}
		}

	case hub.FrameDeclineEscalation:
		if f.ConversationID == "" || !s.Role.AgentCapable() {
			return
		}
		h.escalations.Decline(f.ConversationID, s.UserID)

	default:
		h.logger.Debug("ignoring unknown frame type",
			zap.String("type", f.Type),
			zap.String("user_id", s.UserID))
	}
}
