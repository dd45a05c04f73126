package astro

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow/steps"
)

// sunSigns in zodiac order with the start of each sign's date range.
// Boundaries follow the common tropical calendar.
var sunSigns = []struct {
	name       string
	month, day int
}{
	{"Capricorn", 1, 1},
	{"Aquarius", 1, 20},
	{"Pisces", 2, 19},
	{"Aries", 3, 21},
	{"Taurus", 4, 20},
	{"Gemini", 5, 21},
	{"Cancer", 6, 21},
	{"Leo", 7, 23},
	{"Virgo", 8, 23},
	{"Libra", 9, 23},
	{"Scorpio", 10, 23},
	{"Sagittarius", 11, 22},
	{"Capricorn", 12, 22},
}

// SunSign returns the tropical sun sign for a birth date.
func SunSign(birth time.Time) string {
	sign := sunSigns[0].name
	for _, s := range sunSigns {
		if birth.Month() > time.Month(s.month) ||
			(birth.Month() == time.Month(s.month) && birth.Day() >= s.day) {
			sign = s.name
		}
	}
	return sign
}

var signTraits = map[string]string{
	"Aries":       "bold, direct and quick to act",
	"Taurus":      "steady, patient and grounded",
	"Gemini":      "curious, expressive and quick-witted",
	"Cancer":      "intuitive, caring and protective",
	"Leo":         "warm, confident and generous",
	"Virgo":       "precise, thoughtful and dependable",
	"Libra":       "balanced, charming and fair-minded",
	"Scorpio":     "intense, perceptive and determined",
	"Sagittarius": "adventurous, optimistic and honest",
	"Capricorn":   "disciplined, ambitious and practical",
	"Aquarius":    "original, independent and forward-looking",
	"Pisces":      "imaginative, gentle and compassionate",
}

const generatorSystemPrompt = `You are Luna, a warm astrology guide. Write a detailed kundli reading in simple language: personality, strengths, career inclinations, relationships, and one gentle caution. Keep it encouraging and specific to the birth details given. 300 to 400 words.`

// Generator produces kundli content. Sun-sign summaries are computed
// locally; the detailed reading comes from the language model. It
// implements steps.KundliGenerator.
type Generator struct {
	llm *Client
}

func NewGenerator(llm *Client) *Generator {
	return &Generator{llm: llm}
}

func (g *Generator) SunSignSummary(ctx context.Context, p *store.Profile) (string, error) {
	sign := SunSign(p.BirthDatetime)
	traits := signTraits[sign]
	return fmt.Sprintf("%s is a %s ☀️ People born under this sign tend to be %s.", p.Name, sign, traits), nil
}

func (g *Generator) Generate(ctx context.Context, p *store.Profile) (steps.KundliOutcome, error) {
	user := fmt.Sprintf("Name: %s\nBirth date and time (UTC): %s\nBirth place: %s\nSun sign: %s",
		p.Name, p.BirthDatetime.Format("2006-01-02 15:04"), p.BirthPlace, SunSign(p.BirthDatetime))

	reading, err := g.llm.complete(ctx, generatorSystemPrompt, user, 1024)
	if err != nil {
		return steps.KundliOutcome{}, err
	}
	reading = strings.TrimSpace(reading)

	name := fmt.Sprintf("kundli_%s.txt", sanitizeFilename(p.Name))
	logger.InfoCF("astro", "Kundli generated", map[string]any{
		"profile_id": p.ProfileID, "document": name,
	})
	return steps.KundliOutcome{
		Summary:      fmt.Sprintf("Here is the kundli for %s ✨", p.Name),
		Document:     []byte(reading),
		DocumentName: name,
	}, nil
}

const offerSystemPrompt = `The user was offered a detailed kundli reading. Classify their reply as exactly one of: accepted, declined, astrology_question, off_topic.

Respond with JSON only: {"reply_type": ""}`

func (g *Generator) ClassifyOfferReply(ctx context.Context, text string) (steps.OfferReply, error) {
	// Clear yes/no answers never need a model call.
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "yes please", "haan", "ha", "sure", "ok", "okay", "y", "yep":
		return steps.OfferAccepted, nil
	case "no", "nah", "nahi", "no thanks", "not now", "n", "nope":
		return steps.OfferDeclined, nil
	}

	reply, err := g.llm.complete(ctx, offerSystemPrompt, "User reply: "+text, 64)
	if err != nil {
		return steps.OfferOffTopic, err
	}
	var parsed struct {
		ReplyType string `json:"reply_type"`
	}
	if err := decodeJSONReply(reply, &parsed); err != nil {
		return steps.OfferOffTopic, fmt.Errorf("offer reply: %w", err)
	}
	switch steps.OfferReply(parsed.ReplyType) {
	case steps.OfferAccepted, steps.OfferDeclined, steps.OfferQuestion, steps.OfferOffTopic:
		return steps.OfferReply(parsed.ReplyType), nil
	}
	return steps.OfferOffTopic, nil
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "profile"
	}
	return b.String()
}
