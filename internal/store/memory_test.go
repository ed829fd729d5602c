package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/support-router/internal/model"
)

func newConversation(id, channel, customerID string, status model.ConversationStatus, start time.Time, ttl time.Duration) *model.Conversation {
	return &model.Conversation{
		ID:         id,
		Channel:    channel,
		CustomerID: customerID,
		Status:     status,
		StartTime:  start,
		ExpiresAt:  start.Add(ttl),
	}
}

func TestClaimExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, newConversation("c1", "webchat", "v-1", model.ConversationPending, now, 35*time.Minute)))

	const agents = 20
	var wg sync.WaitGroup
	wins := make(chan string, agents)
	for i := 0; i < agents; i++ {
		agentID := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, "c1", agentID, time.Now()); err == nil {
				wins <- agentID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	conv, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], conv.AgentID)
	assert.Equal(t, model.ConversationActive, conv.Status)
	assert.True(t, conv.Locked)
}

func TestClaimAlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, newConversation("c1", "webchat", "v-1", model.ConversationPending, now, time.Hour)))

	_, err := s.Claim(ctx, "c1", "alice", now)
	require.NoError(t, err)

	_, err = s.Claim(ctx, "c1", "bob", now)
	assert.ErrorIs(t, err, model.ErrAlreadyClaimed)

	_, err = s.Claim(ctx, "missing", "bob", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReleaseRequiresOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, newConversation("c1", "email", "x@example.com", model.ConversationPending, now, time.Hour)))
	_, err := s.Claim(ctx, "c1", "alice", now)
	require.NoError(t, err)

	_, err = s.Release(ctx, "c1", "bob")
	assert.ErrorIs(t, err, model.ErrNotOwner)

	conv, err := s.Release(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Empty(t, conv.AgentID)
	assert.False(t, conv.Locked)

	// Released conversations are claimable again.
	_, err = s.Claim(ctx, "c1", "bob", now)
	assert.NoError(t, err)
}

func TestEndOwnershipAndElevation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, newConversation("c1", "email", "x@example.com", model.ConversationPending, now, time.Hour)))
	_, err := s.Claim(ctx, "c1", "alice", now)
	require.NoError(t, err)

	_, err = s.End(ctx, "c1", "bob", false, now)
	assert.ErrorIs(t, err, model.ErrNotOwner)

	conv, err := s.End(ctx, "c1", "bob", true, now)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationEnded, conv.Status)
	require.NotNil(t, conv.EndTime)

	// Ending twice reports not found, the conversation is gone as a target.
	_, err = s.End(ctx, "c1", "bob", true, now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFindOpenByCustomerSkipsExpiredAndEnded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	expired := newConversation("old", "webchat", "v-1", model.ConversationPending, now.Add(-2*time.Hour), 35*time.Minute)
	require.NoError(t, s.Insert(ctx, expired))

	_, err := s.FindOpenByCustomer(ctx, "webchat", "v-1", now)
	assert.ErrorIs(t, err, model.ErrNotFound)

	fresh := newConversation("new", "webchat", "v-1", model.ConversationPending, now, 35*time.Minute)
	require.NoError(t, s.Insert(ctx, fresh))

	conv, err := s.FindOpenByCustomer(ctx, "webchat", "v-1", now)
	require.NoError(t, err)
	assert.Equal(t, "new", conv.ID)

	// Active conversations match regardless of the pending deadline.
	_, err = s.Claim(ctx, "new", "alice", now)
	require.NoError(t, err)
	conv, err = s.FindOpenByCustomer(ctx, "webchat", "v-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "new", conv.ID)

	// Channel scoping: same customer id on another channel is a different thread.
	_, err = s.FindOpenByCustomer(ctx, "email", "v-1", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEndExpiredGuardsAgainstClaimRace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	stale := newConversation("c1", "webchat", "v-1", model.ConversationPending, now.Add(-time.Hour), 35*time.Minute)
	require.NoError(t, s.Insert(ctx, stale))

	expired, err := s.FindExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	// An agent claims between the scan and the sweep write.
	_, err = s.Claim(ctx, "c1", "alice", now)
	require.NoError(t, err)

	_, err = s.EndExpired(ctx, "c1", now)
	assert.ErrorIs(t, err, model.ErrNotFound)

	conv, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.ConversationActive, conv.Status)
}

func TestSetLastMessageUnreadCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	require.NoError(t, s.Insert(ctx, newConversation("c1", "webchat", "v-1", model.ConversationPending, now, time.Hour)))

	inbound := &model.Message{ID: "m1", Direction: model.DirectionInbound, Content: "hi"}
	conv, err := s.SetLastMessage(ctx, "c1", inbound, now)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.LastMessageAt)

	outbound := &model.Message{ID: "m2", Direction: model.DirectionOutbound, Content: "hello"}
	conv, err = s.SetLastMessage(ctx, "c1", outbound, now)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)

	conv, err = s.MarkRead(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)

	// MarkRead is idempotent.
	conv, err = s.MarkRead(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()
	now := time.Now()

	a := newConversation("a", "webchat", "v-1", model.ConversationPending, now.Add(-3*time.Minute), time.Hour)
	b := newConversation("b", "email", "x@example.com", model.ConversationPending, now.Add(-2*time.Minute), time.Hour)
	c := newConversation("c", "webchat", "v-2", model.ConversationPending, now.Add(-time.Minute), time.Hour)
	for _, conv := range []*model.Conversation{a, b, c} {
		require.NoError(t, s.Insert(ctx, conv))
	}
	_, err := s.Claim(ctx, "c", "alice", now)
	require.NoError(t, err)

	convs, total, err := s.List(ctx, ConversationFilter{Channel: "webchat"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	// Newest first.
	assert.Equal(t, "c", convs[0].ID)

	convs, total, err = s.List(ctx, ConversationFilter{AgentID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "c", convs[0].ID)

	convs, total, err = s.List(ctx, ConversationFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, convs, 1)
	assert.Equal(t, "a", convs[0].ID)
}

func TestMessageInsertDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore()

	first := &model.Message{ID: "m1", Channel: "whatsapp", ChannelMessageID: "SM1", Content: "hi"}
	require.NoError(t, s.Insert(ctx, first))

	dup := &model.Message{ID: "m2", Channel: "whatsapp", ChannelMessageID: "SM1", Content: "hi"}
	assert.ErrorIs(t, s.Insert(ctx, dup), model.ErrDuplicateMessage)

	// Same native id on a different channel is a different message.
	other := &model.Message{ID: "m3", Channel: "email", ChannelMessageID: "SM1", Content: "hi"}
	assert.NoError(t, s.Insert(ctx, other))

	got, err := s.GetByChannelID(ctx, "whatsapp", "SM1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
}

func TestMessageInsertAllowsEmptyNativeID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore()

	// Queued outbound messages have no native id yet; two of them must not
	// collide with each other.
	require.NoError(t, s.Insert(ctx, &model.Message{ID: "m1", Channel: "webchat"}))
	require.NoError(t, s.Insert(ctx, &model.Message{ID: "m2", Channel: "webchat"}))
}

func TestMessageUpdateRegistersNativeID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore()

	msg := &model.Message{ID: "m1", Channel: "webchat"}
	require.NoError(t, s.Insert(ctx, msg))

	msg.ChannelMessageID = "native-1"
	require.NoError(t, s.Update(ctx, msg))

	got, err := s.GetByChannelID(ctx, "webchat", "native-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	// A second message cannot steal the registered key.
	other := &model.Message{ID: "m2", Channel: "webchat"}
	require.NoError(t, s.Insert(ctx, other))
	other.ChannelMessageID = "native-1"
	assert.ErrorIs(t, s.Update(ctx, other), model.ErrDuplicateMessage)
}

func TestListByConversationOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMessageStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, &model.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "c1",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Insert(ctx, &model.Message{ID: "z", ConversationID: "c2", CreatedAt: base}))

	msgs, total, err := s.ListByConversation(ctx, "c1", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "c", msgs[2].ID)

	msgs, _, err = s.ListByConversation(ctx, "c1", 3, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "e", msgs[1].ID)
}

func TestUserPresence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryUserStore()
	now := time.Now()

	// SetPresence creates the user on first sight.
	require.NoError(t, s.SetPresence(ctx, "alice", true, now))

	user, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.IsOnline)
	assert.Equal(t, model.RoleAgent, user.Role)

	require.NoError(t, s.SetPresence(ctx, "alice", false, now.Add(time.Minute)))
	user, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.IsOnline)
	assert.WithinDuration(t, now.Add(time.Minute), user.LastSeen, time.Second)
}
