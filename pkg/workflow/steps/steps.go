// Package steps implements the workflow steps behind each conversational
// intent: main menu, unknown fallback, profile resolution, profile creation,
// kundli generation and profile Q&A. Steps talk to storage and language
// models only through the collaborator interfaces declared here, so every
// flow is testable with scripted fakes.
package steps

import (
	"context"
	"strings"
	"unicode"

	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
)

// BasicDetails is a partial set of birth-profile fields gathered from free
// text. Zero values mean "not mentioned this turn"; extraction merges into
// previously collected state rather than replacing it.
type BasicDetails struct {
	Name         string
	BirthDate    string // 2006-01-02
	BirthTime    string // 15:04
	BirthPlace   string
	Gender       store.Gender
	Relationship store.Relationship
}

// ExtractionResult pairs newly extracted fields with the conversational
// reply to show the user (a prompt for whatever is still missing).
type ExtractionResult struct {
	Details BasicDetails
	Reply   string
}

// ConfirmationResult interprets the user's answer to a profile summary.
type ConfirmationResult struct {
	Confirmed             bool
	Edits                 *BasicDetails
	WantsBirthPlaceChange bool
	Reply                 string
}

// DetailExtractor interprets free text during profile creation. Backed by a
// language model in production, scripted in tests.
type DetailExtractor interface {
	ExtractBasicDetails(ctx context.Context, userText string, known BasicDetails, history []session.MessageTurn) (ExtractionResult, error)
	// ResolveLocationChoice maps the user's reply onto one of the offered
	// candidates. Returns 0 when no candidate was chosen yet.
	ResolveLocationChoice(ctx context.Context, userText string, candidates []store.Location) (selectedID int64, reply string, err error)
	InterpretConfirmation(ctx context.Context, userText string, summary string) (ConfirmationResult, error)
}

// OfferReply classifies a free-text answer to the detailed-kundli offer.
type OfferReply string

const (
	OfferAccepted OfferReply = "accepted"
	OfferDeclined OfferReply = "declined"
	OfferQuestion OfferReply = "astrology_question"
	OfferOffTopic OfferReply = "off_topic"
)

// KundliOutcome is the result of a kundli generation attempt.
type KundliOutcome struct {
	Summary        string
	Document       []byte
	DocumentName   string
	PaymentPending bool
	PaymentLink    string
}

// KundliGenerator produces birth-chart content for a profile. Generation may
// be gated on payment; callers must handle a PaymentPending outcome.
type KundliGenerator interface {
	SunSignSummary(ctx context.Context, p *store.Profile) (string, error)
	Generate(ctx context.Context, p *store.Profile) (KundliOutcome, error)
	ClassifyOfferReply(ctx context.Context, text string) (OfferReply, error)
}

// QnAAnswer is one assistant turn in a profile Q&A session.
type QnAAnswer struct {
	Text               string
	Category           string
	WantsProfileSwitch bool
}

// QnAResponder answers astrology questions grounded on a profile.
type QnAResponder interface {
	Answer(ctx context.Context, p *store.Profile, question string, history []session.MessageTurn) (QnAAnswer, error)
}

// formatProfileName title-cases a profile name and caps it at 20 runes.
func formatProfileName(name string) string {
	if name == "" {
		name = "Unnamed"
	}
	var b strings.Builder
	prevSpace := true
	for _, r := range strings.ToLower(name) {
		if prevSpace {
			r = unicode.ToUpper(r)
		}
		prevSpace = unicode.IsSpace(r)
		b.WriteRune(r)
	}
	formatted := b.String()
	runes := []rune(formatted)
	if len(runes) <= 20 {
		return formatted
	}
	return string(runes[:17]) + "..."
}

// handoffData reads the cross-workflow handoff payload out of a workflow
// context, if present.
func handoffData(wctx map[string]any) map[string]any {
	if wctx == nil {
		return nil
	}
	m, _ := wctx["_handoff"].(map[string]any)
	return m
}

// handoffProfileID returns the profile id carried by a handoff, or "".
func handoffProfileID(wctx map[string]any) string {
	if h := handoffData(wctx); h != nil {
		if id, ok := h["profile_id"].(string); ok {
			return id
		}
	}
	return ""
}
