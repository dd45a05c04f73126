// Package intent classifies user messages into the closed set of
// conversational intents. Classification is deliberately narrow: it returns
// an intent name and nothing else, and every failure mode collapses to
// IntentUnknown so routing always has somewhere to go.
package intent

import (
	"sort"
	"strings"

	"github.com/lunalabs/luna/pkg/session"
)

// Intent names. These map 1:1 onto workflow ids; the router hands whatever
// is classified here straight to the workflow engine.
const (
	GenerateKundli = "generate_kundli"
	ProfileQnA     = "profile_qna"
	MainMenu       = "main_menu"
	Unknown        = "unknown"
)

// descriptions feed the classifier prompt. Wording matters: the model picks
// between intents based on these lines.
var descriptions = map[string]string{
	GenerateKundli: "Includes profile selection, profile addition, and kundli generation.",
	ProfileQnA:     "Multi-turn Q&A session based on a specific user profile for personalized astrology insights.",
	MainMenu:       "Main menu that can be invoked at any time with slash commands like /luna, /menu, or /help.",
	Unknown:        "Fallback for unclear or unclassifiable messages.",
}

// All returns every known intent name in stable order.
func All() []string {
	out := make([]string, 0, len(descriptions))
	for name := range descriptions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsValid reports whether name is a known intent.
func IsValid(name string) bool {
	_, ok := descriptions[name]
	return ok
}

// Input is everything the classifier may condition on for one message. The
// history already ends with the message being classified; the router
// appends the user turn before classification runs.
type Input struct {
	History      []session.MessageTurn
	ActiveIntent string
}

// historyTurnLimit bounds how much conversation the prompt carries.
const historyTurnLimit = 5

const systemPromptHeader = `You are an intent classifier for an astrology chatbot. You will be provided with a list of available intents, and a conversation history.

Your job is to classify the latest user message into one of the available intents.

Respond with valid JSON matching {"intent": "exact_intent_name"}.
Choose ONLY from the provided intent names, matching exactly.
Do NOT use any other intent names.

Available intents with descriptions:
`

// SystemPrompt renders the classifier system prompt with the catalogue.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	for _, name := range All() {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(descriptions[name])
		b.WriteString("\n")
	}
	return b.String()
}

// UserPrompt renders the per-message prompt. The active intent is included
// with an instruction to lean towards it, which is what keeps multi-turn
// flows from being derailed by short confirmations like "yes".
func UserPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	b.WriteString(formatHistory(in.History, historyTurnLimit))
	b.WriteString("\n\nActive intent: ")
	if in.ActiveIntent != "" {
		b.WriteString(in.ActiveIntent)
	} else {
		b.WriteString("none")
	}
	b.WriteString("\n\n")
	b.WriteString("Consider the conversation flow so far and the latest user message, to classify the user's intent. Pick from the available intents based on your analysis.\n\n")
	b.WriteString("If the user is responding to a recent query, then lean towards the intent that best maps to that segment of the conversation.\n\n")
	b.WriteString("Unless there is a clear change in user's intent towards another one, lean towards the active intent.\n\n")
	b.WriteString(`If the user's message doesn't seem related to any of the available intents, then respond with "unknown".` + "\n\n")
	b.WriteString(`Respond ONLY with the intent name that best matches from the list of available intents, in this format: {"intent": "intent_name"}`)
	return b.String()
}

func formatHistory(history []session.MessageTurn, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, turn.Role+": "+turn.Content)
	}
	return strings.Join(lines, "\n")
}
