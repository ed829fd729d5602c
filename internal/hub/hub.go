// Package hub tracks connected agent sessions and fans real-time events out
// to conversation subscribers. The hub is the single writer of the session
// registry and the subscription map; every other component reaches sessions
// only through hub operations.
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
	"github.com/omnidesk/support-router/pkg/metrics"
)

// Hub maintains the registry of connected sessions and conversation
// subscriptions.
type Hub struct {
	users  store.UserStore
	logger *logger.Logger

	mu            sync.RWMutex
	byUser        map[string]map[*Session]bool
	subscriptions map[string]map[*Session]bool
}

// New creates a hub backed by the given user store for presence persistence.
func New(users store.UserStore, log *logger.Logger) *Hub {
	return &Hub{
		users:         users,
		logger:        log,
		byUser:        make(map[string]map[*Session]bool),
		subscriptions: make(map[string]map[*Session]bool),
	}
}

// NewEvent builds an event envelope stamped with the current time.
func NewEvent(eventType model.EventType, payload any) model.Event {
	return model.Event{Type: eventType, Payload: payload, CreatedAt: time.Now()}
}

// Register adds a connected session, persists the user's online flag, and
// announces presence to all sessions.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	if h.byUser[s.UserID] == nil {
		h.byUser[s.UserID] = make(map[*Session]bool)
	}
	h.byUser[s.UserID][s] = true
	first := len(h.byUser[s.UserID]) == 1
	h.mu.Unlock()

	metrics.SessionsActive.Inc()

	if first {
		h.persistPresence(s.UserID, true)
		h.BroadcastAll(NewEvent(model.EventUserOnline, model.PresencePayload{UserID: s.UserID}))
	}
}

// Unregister removes a session and its subscriptions. When the user's last
// session disconnects, presence is persisted and announced.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	sessions, ok := h.byUser[s.UserID]
	if ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.byUser, s.UserID)
		}
	}
	for convID, subs := range h.subscriptions {
		if subs[s] {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.subscriptions, convID)
			}
		}
	}
	last := ok && h.byUser[s.UserID] == nil
	h.mu.Unlock()

	if !ok {
		return
	}

	metrics.SessionsActive.Dec()

	if last {
		h.persistPresence(s.UserID, false)
		h.BroadcastAll(NewEvent(model.EventUserOffline, model.PresencePayload{UserID: s.UserID}))
	}
}

// JoinConversation subscribes a session to a conversation's events.
func (h *Hub) JoinConversation(conversationID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscriptions[conversationID] == nil {
		h.subscriptions[conversationID] = make(map[*Session]bool)
	}
	h.subscriptions[conversationID][s] = true
}

// LeaveConversation unsubscribes a session from a conversation's events.
func (h *Hub) LeaveConversation(conversationID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscriptions[conversationID]
	if subs == nil {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subscriptions, conversationID)
	}
}

// BroadcastToConversation delivers an event to the conversation's
// subscribers. Events are enqueued in call order, so subscribers observe
// them in the order the corresponding store writes were committed.
func (h *Hub) BroadcastToConversation(conversationID string, event model.Event) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.subscriptions[conversationID]))
	for s := range h.subscriptions[conversationID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

// BroadcastToAgents delivers an event to every session with an agent-capable
// role (escalation requests and claim notices).
func (h *Hub) BroadcastToAgents(event model.Event) {
	h.mu.RLock()
	var targets []*Session
	for _, sessions := range h.byUser {
		for s := range sessions {
			if s.Role.AgentCapable() {
				targets = append(targets, s)
			}
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

// BroadcastAll delivers an event to every connected session.
func (h *Hub) BroadcastAll(event model.Event) {
	h.mu.RLock()
	var targets []*Session
	for _, sessions := range h.byUser {
		for s := range sessions {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.deliver(targets, event)
}

func (h *Hub) deliver(targets []*Session, event model.Event) {
	for _, s := range targets {
		if !s.Send(event) {
			h.logger.Warn("dropping slow session",
				zap.String("user_id", s.UserID))
			s.Close()
		}
	}
	metrics.EventsBroadcast.WithLabelValues(string(event.Type)).Add(float64(len(targets)))
}

func (h *Hub) persistPresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.users.SetPresence(ctx, userID, online, time.Now()); err != nil {
		h.logger.Warn("failed to persist presence",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}
