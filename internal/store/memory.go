package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omnidesk/support-router/internal/model"
)

// MemoryConversationStore is a mutex-guarded in-memory ConversationStore.
type MemoryConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
}

// NewMemoryConversationStore creates an empty in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*model.Conversation),
	}
}

func (s *MemoryConversationStore) Insert(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conv
	s.conversations[conv.ID] = &c
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (s *MemoryConversationStore) FindOpenByCustomer(ctx context.Context, channel, customerID string, now time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Conversation
	for _, conv := range s.conversations {
		if conv.Channel != channel || conv.CustomerID != customerID {
			continue
		}
		switch conv.Status {
		case model.ConversationActive:
		case model.ConversationPending:
			if !conv.ExpiresAt.After(now) {
				continue
			}
		default:
			continue
		}
		if found == nil || conv.StartTime.After(found.StartTime) {
			found = conv
		}
	}
	if found == nil {
		return nil, model.ErrNotFound
	}
	c := *found
	return &c, nil
}

func (s *MemoryConversationStore) Claim(ctx context.Context, id, agentID string, at time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.Status == model.ConversationEnded {
		return nil, model.ErrNotFound
	}
	if conv.AgentID != "" {
		return nil, model.ErrAlreadyClaimed
	}

	conv.AgentID = agentID
	conv.Locked = true
	conv.Status = model.ConversationActive
	c := *conv
	return &c, nil
}

func (s *MemoryConversationStore) Release(ctx context.Context, id, agentID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if conv.AgentID != agentID {
		return nil, model.ErrNotOwner
	}

	conv.AgentID = ""
	conv.Locked = false
	c := *conv
	return &c, nil
}

func (s *MemoryConversationStore) End(ctx context.Context, id, agentID string, elevated bool, at time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if conv.Status == model.ConversationEnded {
		return nil, model.ErrNotFound
	}
	if !elevated && conv.AgentID != agentID {
		return nil, model.ErrNotOwner
	}

	end := at
	conv.Status = model.ConversationEnded
	conv.AgentID = ""
	conv.Locked = false
	conv.EndTime = &end
	c := *conv
	return &c, nil
}

func (s *MemoryConversationStore) MarkRead(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	conv.UnreadCount = 0
	c := *conv
	return &c, nil
}

func (s *MemoryConversationStore) SetLastMessage(ctx context.Context, id string, msg *model.Message, at time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	conv.LastMessage = msg
	conv.LastMessageAt = &at
	if msg.Direction == model.DirectionInbound {
		conv.UnreadCount++
	}
	c := *conv
	return &c, nil
}

func (s *MemoryConversationStore) List(ctx context.Context, filter ConversationFilter) ([]model.Conversation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if filter.Status != "" && conv.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && conv.AgentID != filter.AgentID {
			continue
		}
		if filter.Channel != "" && conv.Channel != filter.Channel {
			continue
		}
		convs = append(convs, *conv)
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].StartTime.After(convs[j].StartTime)
	})

	total := len(convs)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < total {
		end = start + filter.Limit
	}

	return convs[start:end], total, nil
}

func (s *MemoryConversationStore) FindExpired(ctx context.Context, now time.Time) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []model.Conversation
	for _, conv := range s.conversations {
		if conv.Expired(now) {
			expired = append(expired, *conv)
		}
	}
	return expired, nil
}

func (s *MemoryConversationStore) EndExpired(ctx context.Context, id string, now time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || !conv.Expired(now) {
		return nil, model.ErrNotFound
	}

	end := now
	conv.Status = model.ConversationEnded
	conv.AgentID = ""
	conv.Locked = false
	conv.EndTime = &end
	c := *conv
	return &c, nil
}

// MemoryMessageStore is a mutex-guarded in-memory MessageStore.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	byNative map[string]string // "channel/channel_message_id" -> message id
}

// NewMemoryMessageStore creates an empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*model.Message),
		byNative: make(map[string]string),
	}
}

func nativeKey(channel, channelMessageID string) string {
	return channel + "/" + channelMessageID
}

func (s *MemoryMessageStore) Insert(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ChannelMessageID != "" {
		key := nativeKey(msg.Channel, msg.ChannelMessageID)
		if _, exists := s.byNative[key]; exists {
			return model.ErrDuplicateMessage
		}
		s.byNative[key] = msg.ID
	}

	m := *msg
	s.messages[msg.ID] = &m
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	m := *msg
	return &m, nil
}

func (s *MemoryMessageStore) GetByChannelID(ctx context.Context, channel, channelMessageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byNative[nativeKey(channel, channelMessageID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	m := *s.messages[id]
	return &m, nil
}

func (s *MemoryMessageStore) Update(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.messages[msg.ID]
	if !ok {
		return model.ErrNotFound
	}

	// Delivery may assign the native id after the fact; register the
	// idempotency key when it appears.
	if msg.ChannelMessageID != "" && prev.ChannelMessageID == "" {
		key := nativeKey(msg.Channel, msg.ChannelMessageID)
		if owner, exists := s.byNative[key]; exists && owner != msg.ID {
			return model.ErrDuplicateMessage
		}
		s.byNative[key] = msg.ID
	}

	m := *msg
	s.messages[msg.ID] = &m
	return nil
}

func (s *MemoryMessageStore) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []model.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, *msg)
		}
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	total := len(msgs)
	start := offset
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}

	return msgs[start:end], total, nil
}

// MemoryUserStore is a mutex-guarded in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*model.User)}
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *MemoryUserStore) Upsert(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *MemoryUserStore) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		user = &model.User{ID: id, Role: model.RoleAgent}
		s.users[id] = user
	}
	user.IsOnline = online
	user.LastSeen = at
	return nil
}
