package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omnidesk/support-router/internal/llm"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
)

// ErrSuggestionsDisabled means no LLM provider is configured.
var ErrSuggestionsDisabled = errors.New("reply suggestions are not configured")

const suggestionPrompt = "You are drafting a reply for a customer support agent. " +
	"Given the conversation so far, write a short, friendly, professional reply " +
	"the agent could send. Reply with the message text only."

// SuggestionService drafts replies for agents from the conversation history.
// Suggestions are never sent automatically; the agent always reviews them.
type SuggestionService struct {
	messages store.MessageStore
	manager  *ConversationManager
	client   llm.Client
	logger   *logger.Logger
}

// NewSuggestionService creates a suggestion service. client may be nil when
// no provider is configured.
func NewSuggestionService(
	messages store.MessageStore,
	manager *ConversationManager,
	client llm.Client,
	log *logger.Logger,
) *SuggestionService {
	return &SuggestionService{
		messages: messages,
		manager:  manager,
		client:   client,
		logger:   log,
	}
}

// Suggestion is one drafted reply.
type Suggestion struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Suggest drafts a reply for the owning agent.
func (s *SuggestionService) Suggest(ctx context.Context, conversationID, agentID string) (*Suggestion, error) {
	if s.client == nil {
		return nil, ErrSuggestionsDisabled
	}

	conv, err := s.manager.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.AgentID != agentID {
		return nil, model.ErrNotOwner
	}

	msgs, _, err := s.messages.ListByConversation(ctx, conversationID, 50, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	chat := []llm.ChatMessage{{Role: "user", Content: suggestionPrompt + "\n\n" + transcript(msgs)}}

	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{Messages: chat})
	if err != nil {
		return nil, fmt.Errorf("suggestion failed: %w", err)
	}

	return &Suggestion{
		Text:  strings.TrimSpace(resp.Content),
		Model: resp.Model,
	}, nil
}

func transcript(msgs []model.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg.IsDeleted || msg.Content == "" {
			continue
		}
		if msg.Direction == model.DirectionInbound {
			b.WriteString("Customer: ")
		} else {
			b.WriteString("Agent: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
