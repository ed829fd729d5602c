package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleGreetsUnknownSender(t *testing.T) {
	e := NewEngine()

	reply := e.Handle("wa/+15550100", "hello")

	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.Contains(t, reply.Text, greeting)
	assert.Contains(t, reply.Text, "1. Talk to a live agent")
	assert.False(t, reply.Escalate)

	state, ok := e.StateFor("wa/+15550100")
	require.True(t, ok)
	assert.Equal(t, 1, state.MessageCount)
}

func TestHandleLiveChatRequest(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"numeric shortcut", "1"},
		{"keyword", "I want to talk to a human please"},
		{"keyword agent", "AGENT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine()
			e.Handle("s1", "hi")

			reply := e.Handle("s1", tc.input)

			assert.Equal(t, StepLiveChatRequested, reply.Step)
			assert.True(t, reply.Escalate)
			assert.Contains(t, reply.Text, "connecting you with a live agent")
		})
	}
}

func TestHandleEscalatesOnlyOnTransition(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")

	first := e.Handle("s1", "human")
	require.True(t, first.Escalate)

	// Further messages while waiting must not re-signal the hand-off.
	second := e.Handle("s1", "anyone there?")
	assert.Equal(t, StepLiveChatRequested, second.Step)
	assert.False(t, second.Escalate)
	assert.Contains(t, second.Text, "queue for a live agent")
}

func TestHandleSchedulingFlow(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")

	reply := e.Handle("s1", "2")
	require.Equal(t, StepScheduling, reply.Step)
	assert.Contains(t, reply.Text, "when works best")

	reply = e.Handle("s1", "  Tuesday at 3pm  ")
	assert.Equal(t, StepCompleted, reply.Step)
	assert.Contains(t, reply.Text, `"Tuesday at 3pm"`)

	state, ok := e.StateFor("s1")
	require.True(t, ok)
	assert.Equal(t, "Tuesday at 3pm", state.Data["requested_time"])

	// Completed loops back to the menu on the next message.
	reply = e.Handle("s1", "thanks")
	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.Contains(t, reply.Text, anythingElse)
}

func TestHandleFAQAnswersAndReturnsToMenu(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")

	reply := e.Handle("s1", "what are your hours?")

	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.Contains(t, reply.Text, "Monday through Friday")
	assert.Contains(t, reply.Text, "1. Talk to a live agent")
}

func TestHandleFAQShortcutWithoutTopic(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")

	reply := e.Handle("s1", "3")

	assert.Equal(t, StepFAQMode, reply.Step)
	assert.Contains(t, reply.Text, "hours, pricing, or how to contact us")

	// The next message is the topic; a bare phrase matches directly.
	reply = e.Handle("s1", "when do you close")
	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.Contains(t, reply.Text, "Monday through Friday")
	assert.Contains(t, reply.Text, "1. Talk to a live agent")
}

func TestHandleFAQModeUnknownTopicListsTopics(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")
	e.Handle("s1", "3")

	reply := e.Handle("s1", "quantum entanglement")

	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.Contains(t, reply.Text, "hours, pricing, or how to contact us")
}

func TestHandleIntentPriority(t *testing.T) {
	// "help" is an FAQ keyword; an explicit agent request in the same
	// message still wins.
	e := NewEngine()
	e.Handle("s1", "hi")

	reply := e.Handle("s1", "help me talk to a person")

	assert.Equal(t, StepLiveChatRequested, reply.Step)
	assert.True(t, reply.Escalate)
}

func TestHandleScheduleBeatsFAQ(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")

	reply := e.Handle("s1", "can I schedule a call about pricing")

	assert.Equal(t, StepScheduling, reply.Step)
}

func TestHandleFallback(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")

	reply := e.Handle("s1", "asdfghjkl")

	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.True(t, strings.HasPrefix(reply.Text, fallback))
}

func TestResetDiscardsState(t *testing.T) {
	e := NewEngine()
	e.Handle("s1", "hi")
	e.Handle("s1", "1")

	e.Reset("s1")

	_, ok := e.StateFor("s1")
	assert.False(t, ok)

	// A reset sender starts over at the greeting.
	reply := e.Handle("s1", "hello again")
	assert.Equal(t, StepAwaitingChoice, reply.Step)
	assert.Contains(t, reply.Text, greeting)
}

func TestStatesAreIsolatedPerSender(t *testing.T) {
	e := NewEngine()
	e.Handle("a", "hi")
	e.Handle("b", "hi")

	replyA := e.Handle("a", "1")
	replyB := e.Handle("b", "2")

	assert.Equal(t, StepLiveChatRequested, replyA.Step)
	assert.Equal(t, StepScheduling, replyB.Step)
}

func TestAnswerFAQFirstMatchWins(t *testing.T) {
	// "when" (hours) appears before "cost" (pricing) in the entry order.
	answer := answerFAQ("when do prices change")
	assert.Contains(t, answer, "Monday through Friday")
}
