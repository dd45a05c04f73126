package steps

import (
	"context"
	"fmt"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

const (
	textDetailedKundliOffer = "Would you like me to generate your detailed Vedic kundli with a complete birth chart analysis?"
	textKundliAccepted      = "Wonderful! I'm preparing your detailed kundli now. This takes a moment, I'll send it over as soon as it's ready. 📜"
	textKundliDeclined      = "No problem! Your sun sign insights are always here for you. Send */Luna* whenever you'd like to explore more."
	textKundliReady         = "Here is your detailed Vedic kundli! 📜"
	textAstroQuestionNudge  = "That's a great question! Your detailed kundli would cover exactly this. Shall I generate it for you?"
	textOffTopicNudge       = "I'm your astrology guide, so let's keep the focus on the stars. Would you like your detailed kundli?"
	textPaymentRequired     = "Your detailed kundli is almost ready! Please complete the payment to continue:\n\n%s"
	textNoProfileForKundli  = "I need your birth details before I can generate a kundli. Let's set up a profile first."
)

// kundliState tracks where the kundli conversation stands within the step.
type kundliState struct {
	OfferShown bool
	ProfileID  string
}

const kundliStateKey = "kundli_state"

// KundliStep runs the kundli offer-and-generate exchange: show the sun-sign
// summary, offer the detailed chart, and generate on acceptance. Generation
// behind a paywall parks the workflow until the payment event arrives.
type KundliStep struct {
	profiles  store.ProfileStore
	generator KundliGenerator
}

func NewKundliStep(profiles store.ProfileStore, generator KundliGenerator) *KundliStep {
	return &KundliStep{profiles: profiles, generator: generator}
}

func (s *KundliStep) ID() workflow.StepID { return workflow.StepKundliGeneration }

func (s *KundliStep) Execute(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, wctx map[string]any) (workflow.Result, error) {
	profile, result := s.resolveProfile(ctx, msg, sess, wctx)
	if profile == nil {
		return result, nil
	}

	state, _ := wctx[kundliStateKey].(*kundliState)
	if state == nil {
		state = &kundliState{ProfileID: profile.ProfileID}
	}

	if !state.OfferShown {
		return s.showOffer(ctx, msg, sess, workflowID, profile, state)
	}
	return s.handleOfferReply(ctx, msg, sess, workflowID, profile, state)
}

// resolveProfile picks the working profile from the handoff or the session.
// A nil profile comes back with the jump-to-resolution result to use.
func (s *KundliStep) resolveProfile(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, wctx map[string]any) (*store.Profile, workflow.Result) {
	profileID := handoffProfileID(wctx)
	if profileID == "" {
		profileID = sess.CurrentProfileID
	}
	if profileID == "" {
		return nil, workflow.Result{
			Response: msg.CreateTextResponse(textNoProfileForKundli),
			Action:   workflow.ActionJump,
			NextStep: workflow.StepProfileResolution,
		}
	}

	profile, err := s.profiles.ProfileByID(ctx, profileID)
	if err != nil || profile == nil {
		logger.WarnCF("steps", "Kundli profile not loadable", map[string]any{
			"user_id": sess.UserID, "profile_id": profileID,
		})
		return nil, workflow.Result{
			Response: msg.CreateTextResponse(textNoProfileForKundli),
			Action:   workflow.ActionJump,
			NextStep: workflow.StepProfileResolution,
		}
	}
	return profile, workflow.Result{}
}

func (s *KundliStep) showOffer(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, profile *store.Profile, state *kundliState) (workflow.Result, error) {
	summary, err := s.generator.SunSignSummary(ctx, profile)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("sun sign summary: %w", err)
	}

	state.OfferShown = true
	state.ProfileID = profile.ProfileID
	response := msg.CreateTextResponse(summary+"\n\n"+textDetailedKundliOffer,
		protocol.WithReplyOptions(offerReplies(workflowID)),
	)
	return workflow.Result{
		Response: response,
		Action:   workflow.ActionRepeat,
		ContextUpdates: map[string]any{
			kundliStateKey: state,
			"profile_id":   profile.ProfileID,
		},
	}, nil
}

func (s *KundliStep) handleOfferReply(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, profile *store.Profile, state *kundliState) (workflow.Result, error) {
	reply := s.classifyReply(ctx, msg)

	switch reply {
	case OfferAccepted:
		return s.generate(ctx, msg, sess, profile, state)

	case OfferDeclined:
		return workflow.Result{
			Response:       msg.CreateTextResponse(textKundliDeclined),
			Action:         workflow.ActionComplete,
			ContextUpdates: map[string]any{kundliStateKey: state},
		}, nil

	case OfferQuestion:
		return workflow.Result{
			Response: msg.CreateTextResponse(textAstroQuestionNudge,
				protocol.WithReplyOptions(offerReplies(workflowID))),
			Action:         workflow.ActionRepeat,
			ContextUpdates: map[string]any{kundliStateKey: state},
		}, nil

	default:
		return workflow.Result{
			Response: msg.CreateTextResponse(textOffTopicNudge,
				protocol.WithReplyOptions(offerReplies(workflowID))),
			Action:         workflow.ActionRepeat,
			ContextUpdates: map[string]any{kundliStateKey: state},
		}, nil
	}
}

// classifyReply prefers the deterministic quick-reply action; free text goes
// through the classifier, with classifier failure read as off topic.
func (s *KundliStep) classifyReply(ctx context.Context, msg *protocol.RequestMessage) OfferReply {
	if msg.SelectedReply.HasValidFormat() {
		switch msg.SelectedReply.Action() {
		case "confirm_kundli_yes":
			return OfferAccepted
		case "confirm_kundli_no":
			return OfferDeclined
		}
	}
	reply, err := s.generator.ClassifyOfferReply(ctx, msg.Content)
	if err != nil {
		logger.WarnCF("steps", "Offer reply classification failed", map[string]any{
			"error": err.Error(),
		})
		return OfferOffTopic
	}
	return reply
}

func (s *KundliStep) generate(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, profile *store.Profile, state *kundliState) (workflow.Result, error) {
	outcome, err := s.generator.Generate(ctx, profile)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("generate kundli: %w", err)
	}

	if outcome.PaymentPending {
		logger.InfoCF("steps", "Kundli gated on payment", map[string]any{
			"user_id": sess.UserID, "profile_id": profile.ProfileID,
		})
		return workflow.Result{
			Response: msg.CreateTextResponse(fmt.Sprintf(textPaymentRequired, outcome.PaymentLink)),
			Action:   workflow.ActionWait,
			WaitFor: &workflow.WaitEvent{
				EventType: "payment_success",
				Data:      map[string]any{"profile_id": profile.ProfileID},
			},
			ContextUpdates: map[string]any{kundliStateKey: state},
		}, nil
	}

	return workflow.Result{
		Response: kundliReadyResponse(msg, outcome),
		Action:   workflow.ActionComplete,
		ContextUpdates: map[string]any{
			kundliStateKey:     state,
			"kundli_delivered": true,
		},
	}, nil
}

// OnEvent resumes a payment-gated generation once the payment succeeds.
func (s *KundliStep) OnEvent(ctx context.Context, eventType string, data map[string]any, msg *protocol.RequestMessage, _ workflow.ID, wctx map[string]any) (*workflow.Result, error) {
	if eventType != "payment_success" {
		return nil, nil
	}

	profileID := ""
	if state, ok := wctx[kundliStateKey].(*kundliState); ok {
		profileID = state.ProfileID
	}
	if profileID == "" {
		profileID = handoffProfileID(wctx)
	}
	profile, err := s.profiles.ProfileByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load profile %q after payment: %w", profileID, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %q not found after payment", profileID)
	}

	outcome, err := s.generator.Generate(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("generate kundli after payment: %w", err)
	}
	logger.InfoCF("steps", "Kundli generated after payment", map[string]any{
		"profile_id": profileID,
	})

	return &workflow.Result{
		Response:       kundliReadyResponse(msg, outcome),
		Action:         workflow.ActionComplete,
		ContextUpdates: map[string]any{"kundli_delivered": true},
	}, nil
}

func kundliReadyResponse(msg *protocol.RequestMessage, outcome KundliOutcome) *protocol.ResponseMessage {
	text := textKundliReady
	if outcome.Summary != "" {
		text = outcome.Summary
	}
	response := msg.CreateTextResponse(text)
	if len(outcome.Document) > 0 {
		response = msg.CreateResponse(text,
			protocol.WithContentType(protocol.ContentDocument),
			protocol.WithBinaryContent(outcome.Document),
		)
		response.AddMetadata("document_name", outcome.DocumentName)
	}
	return response
}

func offerReplies(workflowID workflow.ID) []protocol.QuickReplyOption {
	return []protocol.QuickReplyOption{
		protocol.BuildQuickReply(string(workflowID), "confirm_kundli_yes", "Yes, generate my kundli"),
		protocol.BuildQuickReply(string(workflowID), "confirm_kundli_no", "Not right now"),
	}
}
