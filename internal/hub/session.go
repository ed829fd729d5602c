package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omnidesk/support-router/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 8 * 1024
	sendBuffer   = 256
)

// Frame is a client-to-server websocket message.
type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
}

// Client frame types.
const (
	FrameJoinConversation  = "join_conversation"
	FrameLeaveConversation = "leave_conversation"
	FrameTyping            = "typing"
	FrameAcceptEscalation  = "accept_escalation"
	FrameDeclineEscalation = "decline_escalation"
)

// FrameHandler processes one inbound frame from a session.
type FrameHandler func(s *Session, f Frame)

// Session is one connected websocket client.
type Session struct {
	UserID string
	Role   model.Role

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewSession wraps an upgraded websocket connection.
func NewSession(h *Hub, conn *websocket.Conn, userID string, role model.Role) *Session {
	return &Session{
		UserID: userID,
		Role:   role,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send enqueues an event for delivery. Returns false when the session's
// buffer is full; the hub treats that as a slow consumer and closes it.
// Sends after Close are dropped. The send channel is never closed, so
// broadcasters may race Close freely.
func (s *Session) Send(event model.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Run registers the session with the hub and blocks pumping frames until the
// connection closes. Inbound frames are dispatched to the handler.
func (s *Session) Run(handler FrameHandler) {
	s.hub.Register(s)
	defer s.Close()

	go s.writePump()

	s.Send(NewEvent(model.EventConnected, model.PresencePayload{UserID: s.UserID}))

	s.readPump(handler)
}

// Close tears the session down and removes it from the hub. It signals
// writePump through done rather than closing send; closing send here would
// panic any broadcaster that snapshotted this session before Close ran.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.hub.Unregister(s)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) readPump(handler FrameHandler) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.hub.logger.Debug("ignoring malformed frame",
				zap.String("user_id", s.UserID))
			continue
		}

		handler(s, frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
