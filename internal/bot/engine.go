// Package bot implements the automated first-line responder: a deterministic
// per-sender state machine that greets new customers, answers FAQ topics,
// captures scheduling requests, and hands off to a human agent on request.
package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Step is a bot conversation state.
type Step string

const (
	StepInitial           Step = "initial"
	StepAwaitingChoice    Step = "awaiting_choice"
	StepScheduling        Step = "scheduling"
	StepFAQMode           Step = "faq_mode"
	StepLiveChatRequested Step = "live_chat_requested"
	StepCompleted         Step = "completed"
)

// State is the ephemeral per-sender bot state. It lives only for the bot's
// involvement in a conversation and is discarded on hand-off or reset.
type State struct {
	Step         Step
	Data         map[string]string
	MessageCount int
	StartTime    time.Time
}

// Reply is the bot's response to one inbound message.
type Reply struct {
	Text string
	Step Step
	// Escalate is set on the transition into live_chat_requested; it signals
	// the escalation coordinator exactly once per hand-off.
	Escalate bool
}

// Engine runs the bot state machine. Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*State
	now    func() time.Time
}

// NewEngine creates a bot engine.
func NewEngine() *Engine {
	return &Engine{
		states: make(map[string]*State),
		now:    time.Now,
	}
}

// Handle processes one inbound message from a sender and returns the reply.
// State is created lazily at step initial for unknown senders.
func (e *Engine) Handle(senderID, input string) Reply {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[senderID]
	if !ok {
		state = &State{
			Step:      StepInitial,
			Data:      make(map[string]string),
			StartTime: e.now(),
		}
		e.states[senderID] = state
	}
	state.MessageCount++

	var reply Reply
	switch state.Step {
	case StepInitial:
		state.Step = StepAwaitingChoice
		reply = Reply{Text: greeting + "\n\n" + menu}

	case StepAwaitingChoice:
		reply = e.handleChoice(state, input)

	case StepScheduling:
		state.Data["requested_time"] = strings.TrimSpace(input)
		state.Step = StepCompleted
		reply = Reply{Text: fmt.Sprintf(scheduleConfirm, strings.TrimSpace(input))}

	case StepFAQMode:
		// The previous turn asked which topic; answer it and return to
		// the menu.
		state.Step = StepAwaitingChoice
		reply = Reply{Text: answerFAQ(input) + "\n\n" + menu}

	case StepLiveChatRequested:
		// Hand-off already signaled; stay here until a human takes over or
		// the session is reset.
		reply = Reply{Text: waitingForAgent}

	case StepCompleted:
		state.Step = StepAwaitingChoice
		reply = Reply{Text: anythingElse + "\n\n" + menu}
	}

	reply.Step = state.Step
	return reply
}

// handleChoice matches input against the three intents. Priority when
// keywords overlap: live chat, then scheduling, then FAQ. Numeric shortcuts
// are first-class aliases for the menu entries.
func (e *Engine) handleChoice(state *State, input string) Reply {
	normalized := strings.ToLower(strings.TrimSpace(input))

	switch {
	case matchIntent(normalized, "1", liveChatKeywords):
		state.Step = StepLiveChatRequested
		return Reply{Text: liveChatAck, Escalate: true}

	case matchIntent(normalized, "2", scheduleKeywords):
		state.Step = StepScheduling
		return Reply{Text: schedulePrompt}

	case matchIntent(normalized, "3", faqKeywords):
		// Answer inline when the message already names a topic; otherwise
		// list the topics and take the next message as the choice.
		if answer, ok := faqAnswer(normalized); ok {
			state.Step = StepAwaitingChoice
			return Reply{Text: answer + "\n\n" + menu}
		}
		state.Step = StepFAQMode
		return Reply{Text: faqTopics}
	}

	return Reply{Text: fallback + "\n\n" + menu}
}

func matchIntent(input, shortcut string, keywords []string) bool {
	if input == shortcut {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(input, kw) {
			return true
		}
	}
	return false
}

// StateFor returns a copy of the sender's current state.
func (e *Engine) StateFor(senderID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[senderID]
	if !ok {
		return State{}, false
	}

	copied := *state
	copied.Data = make(map[string]string, len(state.Data))
	for k, v := range state.Data {
		copied.Data[k] = v
	}
	return copied, true
}

// Reset discards the sender's state, e.g. when an agent takes over.
func (e *Engine) Reset(senderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, senderID)
}
