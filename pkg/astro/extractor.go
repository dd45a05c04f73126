package astro

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow/steps"
)

const extractorSystemPrompt = `You help collect birth details for astrology profiles. Users write casually, often mixing Hindi and English.

From the user's latest message, extract any of these fields they mention:
- name: the person's name
- birth_date: in YYYY-MM-DD format (resolve formats like "21st March 1990")
- birth_time: in 24-hour HH:MM format (resolve "10:30 pm" to "22:30")
- birth_place: the city or town of birth
- gender: one of male, female, other
- relationship: one of self, parent, child, sibling, friend, partner, other

Leave a field as an empty string if the message does not mention it. Never guess.

Also write a short, warm reply asking for whatever is still missing, in the user's language.

Respond with JSON only:
{"name": "", "birth_date": "", "birth_time": "", "birth_place": "", "gender": "", "relationship": "", "reply": ""}`

// Extractor interprets free text during profile creation with a language
// model. It implements steps.DetailExtractor.
type Extractor struct {
	llm *Client
}

func NewExtractor(llm *Client) *Extractor {
	return &Extractor{llm: llm}
}

func (e *Extractor) ExtractBasicDetails(ctx context.Context, userText string, known steps.BasicDetails, history []session.MessageTurn) (steps.ExtractionResult, error) {
	var b strings.Builder
	b.WriteString("Already collected:\n")
	fmt.Fprintf(&b, "- name: %s\n- birth_date: %s\n- birth_time: %s\n- birth_place: %s\n- gender: %s\n- relationship: %s\n",
		known.Name, known.BirthDate, known.BirthTime, known.BirthPlace, known.Gender, known.Relationship)
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(formatTurns(history, 4))
	}
	b.WriteString("\nUser message: ")
	b.WriteString(userText)

	reply, err := e.llm.complete(ctx, extractorSystemPrompt, b.String(), 512)
	if err != nil {
		return steps.ExtractionResult{}, err
	}

	var parsed struct {
		detailPatch
		Reply string `json:"reply"`
	}
	if err := decodeJSONReply(reply, &parsed); err != nil {
		logger.WarnCF("astro", "Unparseable extraction reply", map[string]any{"error": err.Error()})
		return steps.ExtractionResult{}, fmt.Errorf("extraction reply: %w", err)
	}

	return steps.ExtractionResult{
		Details: parsed.detailPatch.toDetails(),
		Reply:   strings.TrimSpace(parsed.Reply),
	}, nil
}

const locationSystemPrompt = `The user was shown a numbered list of places and asked to pick their birth place. Decide which candidate they chose.

Respond with JSON only: {"selected_id": <id or 0>, "reply": ""}
Use selected_id 0 when they did not pick any candidate, with a short reply asking them to choose from the list.`

func (e *Extractor) ResolveLocationChoice(ctx context.Context, userText string, candidates []store.Location) (int64, string, error) {
	// A bare number is an index into the list; no model call needed.
	if n, err := strconv.Atoi(strings.TrimSpace(userText)); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1].ID, "", nil
	}

	var b strings.Builder
	b.WriteString("Candidates:\n")
	for i, loc := range candidates {
		fmt.Fprintf(&b, "%d. %s (id %d)\n", i+1, loc.DisplayName(), loc.ID)
	}
	b.WriteString("\nUser message: ")
	b.WriteString(userText)

	reply, err := e.llm.complete(ctx, locationSystemPrompt, b.String(), 256)
	if err != nil {
		return 0, "", err
	}
	var parsed struct {
		SelectedID int64  `json:"selected_id"`
		Reply      string `json:"reply"`
	}
	if err := decodeJSONReply(reply, &parsed); err != nil {
		return 0, "", fmt.Errorf("location reply: %w", err)
	}
	// The model must pick from the offered list, not invent an id.
	if parsed.SelectedID != 0 && !candidateID(candidates, parsed.SelectedID) {
		return 0, parsed.Reply, nil
	}
	return parsed.SelectedID, strings.TrimSpace(parsed.Reply), nil
}

const confirmationSystemPrompt = `The user was shown a summary of birth details and asked to confirm. Interpret their answer.

Respond with JSON only:
{"confirmed": false, "wants_birth_place_change": false, "edits": {"name": "", "birth_date": "", "birth_time": "", "birth_place": "", "gender": "", "relationship": ""}, "reply": ""}

Set confirmed true only on clear agreement. If they correct a field, put the new value in edits. Set wants_birth_place_change true when they want a different birth place but have not named one yet.`

func (e *Extractor) InterpretConfirmation(ctx context.Context, userText string, summary string) (steps.ConfirmationResult, error) {
	user := "Summary shown:\n" + summary + "\n\nUser message: " + userText

	reply, err := e.llm.complete(ctx, confirmationSystemPrompt, user, 512)
	if err != nil {
		return steps.ConfirmationResult{}, err
	}
	var parsed struct {
		Confirmed             bool         `json:"confirmed"`
		WantsBirthPlaceChange bool         `json:"wants_birth_place_change"`
		Edits                 *detailPatch `json:"edits"`
		Reply                 string       `json:"reply"`
	}
	if err := decodeJSONReply(reply, &parsed); err != nil {
		return steps.ConfirmationResult{}, fmt.Errorf("confirmation reply: %w", err)
	}

	result := steps.ConfirmationResult{
		Confirmed:             parsed.Confirmed,
		WantsBirthPlaceChange: parsed.WantsBirthPlaceChange,
		Reply:                 strings.TrimSpace(parsed.Reply),
	}
	if parsed.Edits != nil {
		if edits := parsed.Edits.toDetails(); edits != (steps.BasicDetails{}) {
			result.Edits = &edits
		}
	}
	return result, nil
}

// detailPatch is the JSON shape models use for extracted or edited fields.
type detailPatch struct {
	Name         string `json:"name"`
	BirthDate    string `json:"birth_date"`
	BirthTime    string `json:"birth_time"`
	BirthPlace   string `json:"birth_place"`
	Gender       string `json:"gender"`
	Relationship string `json:"relationship"`
}

func (p detailPatch) toDetails() steps.BasicDetails {
	return steps.BasicDetails{
		Name:         strings.TrimSpace(p.Name),
		BirthDate:    strings.TrimSpace(p.BirthDate),
		BirthTime:    strings.TrimSpace(p.BirthTime),
		BirthPlace:   strings.TrimSpace(p.BirthPlace),
		Gender:       store.Gender(strings.ToLower(strings.TrimSpace(p.Gender))),
		Relationship: store.Relationship(strings.ToLower(strings.TrimSpace(p.Relationship))),
	}
}

func candidateID(candidates []store.Location, id int64) bool {
	for _, loc := range candidates {
		if loc.ID == id {
			return true
		}
	}
	return false
}

func formatTurns(history []session.MessageTurn, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, turn.Role+": "+turn.Content)
	}
	return strings.Join(lines, "\n")
}
