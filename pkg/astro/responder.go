package astro

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow/steps"
)

const responderSystemPrompt = `You are Luna, a warm astrology consultant answering questions about one specific person's chart. Ground every answer in the birth details provided. Keep answers to a few sentences, encouraging but honest, in the user's language.

Classify the question into a category: career, love, health, finance, family, education, general.

If the user asks about a different person than the profile given, set wants_profile_switch true.

Respond with JSON only: {"answer": "", "category": "", "wants_profile_switch": false}`

// Responder answers profile-grounded astrology questions with a language
// model. It implements steps.QnAResponder.
type Responder struct {
	llm *Client
}

func NewResponder(llm *Client) *Responder {
	return &Responder{llm: llm}
}

func (r *Responder) Answer(ctx context.Context, p *store.Profile, question string, history []session.MessageTurn) (steps.QnAAnswer, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile: %s\nBirth date and time (UTC): %s\nBirth place: %s\nSun sign: %s\nRelationship to user: %s\n",
		p.Name, p.BirthDatetime.Format("2006-01-02 15:04"), p.BirthPlace, SunSign(p.BirthDatetime), p.Relationship)
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(formatTurns(history, 6))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)

	reply, err := r.llm.complete(ctx, responderSystemPrompt, b.String(), 768)
	if err != nil {
		return steps.QnAAnswer{}, err
	}
	var parsed struct {
		Answer             string `json:"answer"`
		Category           string `json:"category"`
		WantsProfileSwitch bool   `json:"wants_profile_switch"`
	}
	if err := decodeJSONReply(reply, &parsed); err != nil {
		return steps.QnAAnswer{}, fmt.Errorf("qna reply: %w", err)
	}
	return steps.QnAAnswer{
		Text:               strings.TrimSpace(parsed.Answer),
		Category:           strings.ToLower(strings.TrimSpace(parsed.Category)),
		WantsProfileSwitch: parsed.WantsProfileSwitch,
	}, nil
}
