package bot

import (
	"strings"
)

const (
	greeting = "Hi! Thanks for reaching out to our support team."

	menu = "How can I help you today?\n" +
		"1. Talk to a live agent\n" +
		"2. Schedule a call\n" +
		"3. Frequently asked questions\n" +
		"Reply with a number or tell me what you need."

	fallback = "Sorry, I didn't catch that."

	liveChatAck = "Got it, connecting you with a live agent now. " +
		"Someone will be with you shortly."

	waitingForAgent = "You're in the queue for a live agent. " +
		"Hang tight, someone will be with you shortly."

	schedulePrompt = "Sure, when works best for you? " +
		"Reply with a day and time and we'll confirm."

	scheduleConfirm = "Thanks! We've noted your request for %q. " +
		"A team member will confirm your appointment soon."

	anythingElse = "Is there anything else I can help you with?"

	faqTopics = "I can answer questions about our hours, pricing, or how to contact us. " +
		"Which would you like to know about?"
)

// liveChatKeywords wins over the other intents when keywords overlap.
var liveChatKeywords = []string{"human", "agent", "live", "person", "representative", "someone", "talk to"}

var scheduleKeywords = []string{"schedule", "appointment", "book", "meeting", "call back", "callback"}

// faqKeywords intentionally includes broad words like "help"; overlap with
// other intents is resolved by match priority, not by narrowing the sets.
var faqKeywords = []string{"faq", "question", "hours", "open", "pricing", "price", "cost", "contact", "info", "help"}

type faqEntry struct {
	keywords []string
	answer   string
}

// faqEntries are matched in order; the first entry with a matching keyword wins.
var faqEntries = []faqEntry{
	{
		keywords: []string{"hours", "open", "close", "when"},
		answer:   "We're open Monday through Friday, 9am to 6pm, and Saturday 10am to 2pm.",
	},
	{
		keywords: []string{"pricing", "price", "cost", "much"},
		answer:   "Our standard plan starts at $29/month. Full pricing is at example.com/pricing.",
	},
	{
		keywords: []string{"contact", "email", "phone", "reach"},
		answer:   "You can reach us at support@example.com or call (555) 010-0199.",
	},
}

// faqAnswer returns the answer for the first matching topic.
func faqAnswer(input string) (string, bool) {
	normalized := strings.ToLower(input)
	for _, entry := range faqEntries {
		for _, kw := range entry.keywords {
			if strings.Contains(normalized, kw) {
				return entry.answer, true
			}
		}
	}
	return "", false
}

// answerFAQ returns the answer for the first matching topic, or the topic
// list when nothing matches.
func answerFAQ(input string) string {
	if answer, ok := faqAnswer(input); ok {
		return answer
	}
	return faqTopics
}
