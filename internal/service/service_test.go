package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/omnidesk/support-router/internal/bot"
	"github.com/omnidesk/support-router/internal/channel"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
)

const (
	testPendingTTL      = 35 * time.Minute
	testBotWindow       = 10 * time.Minute
	testDeliveryTimeout = time.Second
)

// recordingBroadcaster captures every broadcast for assertions.
type recordingBroadcaster struct {
	mu           sync.Mutex
	conversation map[string][]model.Event
	agents       []model.Event
	all          []model.Event
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{conversation: make(map[string][]model.Event)}
}

func (b *recordingBroadcaster) BroadcastToConversation(conversationID string, event model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversation[conversationID] = append(b.conversation[conversationID], event)
}

func (b *recordingBroadcaster) BroadcastToAgents(event model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents = append(b.agents, event)
}

func (b *recordingBroadcaster) BroadcastAll(event model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, event)
}

func (b *recordingBroadcaster) conversationEvents(conversationID string) []model.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]model.EventType, 0, len(b.conversation[conversationID]))
	for _, evt := range b.conversation[conversationID] {
		types = append(types, evt.Type)
	}
	return types
}

func (b *recordingBroadcaster) agentEvents() []model.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]model.EventType, 0, len(b.agents))
	for _, evt := range b.agents {
		types = append(types, evt.Type)
	}
	return types
}

// rig wires the routing core against in-memory stores.
type rig struct {
	conversations *store.MemoryConversationStore
	messages      *store.MemoryMessageStore
	broadcaster   *recordingBroadcaster
	botEngine     *bot.Engine
	manager       *ConversationManager
	coordinator   *EscalationCoordinator
	router        *MessageRouter
}

func newRig(t *testing.T, transport channel.Transport) *rig {
	t.Helper()

	if transport == nil {
		transport = channel.DevTransport
	}

	adapters := channel.NewRegistry()
	adapters.Register(channel.NewWebChatAdapter(transport))
	adapters.Register(channel.NewWhatsAppAdapter(transport))
	adapters.Register(channel.NewEmailAdapter(transport))

	r := &rig{
		conversations: store.NewMemoryConversationStore(),
		messages:      store.NewMemoryMessageStore(),
		broadcaster:   newRecordingBroadcaster(),
		botEngine:     bot.NewEngine(),
	}

	log := logger.Nop()
	r.manager = NewConversationManager(r.conversations, r.broadcaster, r.botEngine, nil, testPendingTTL, log)
	r.coordinator = NewEscalationCoordinator(r.manager, r.broadcaster, log)
	r.router = NewMessageRouter(
		r.messages, r.manager, adapters, r.botEngine, r.coordinator, r.broadcaster, nil,
		testBotWindow, testDeliveryTimeout, log,
	)
	return r
}

// setNow pins the clock for every component in the rig.
func (r *rig) setNow(at time.Time) {
	r.manager.now = func() time.Time { return at }
	r.router.now = func() time.Time { return at }
}

// webChatPayload builds a widget webhook body.
func webChatPayload(messageID, visitorID, text string) []byte {
	return []byte(fmt.Sprintf(`{"message_id": %q, "visitor_id": %q, "text": %q}`, messageID, visitorID, text))
}

func (r *rig) ingest(t *testing.T, payload []byte) *model.Message {
	t.Helper()
	msg, err := r.router.Ingest(context.Background(), channel.WebChatChannel, payload)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	return msg
}
