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
	textQnAWelcomeTpl   = "Great! I'm ready to answer your questions about %s's astrological profile. What would you like to know?\n\n(You can also switch to a different profile if needed.)"
	textChangeProfile   = "Alright, let's select a different profile for your astrological consultation."
	textQnANoProfile    = "I need to know which profile you'd like to discuss. Let's start over."
	textQnAAnswerFailed = "I apologize, but I couldn't process that. Could you please rephrase your question?"
)

// qnaState tracks whether the Q&A session has been opened.
type qnaState struct {
	Started   bool
	ProfileID string
}

const qnaStateKey = "qna_state"

// ProfileQnAStep is an open-ended consultation loop: every turn answers one
// astrology question grounded on the selected profile and stays on the step.
// The loop only ends through a profile switch or an intent change upstream.
type ProfileQnAStep struct {
	profiles  store.ProfileStore
	responder QnAResponder
}

func NewProfileQnAStep(profiles store.ProfileStore, responder QnAResponder) *ProfileQnAStep {
	return &ProfileQnAStep{profiles: profiles, responder: responder}
}

func (s *ProfileQnAStep) ID() workflow.StepID { return workflow.StepProfileQnA }

func (s *ProfileQnAStep) Execute(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, wctx map[string]any) (workflow.Result, error) {
	if msg.SelectedReply.HasValidFormat() && msg.SelectedReply.Action() == "change_profile" {
		sess.CurrentProfileID = ""
		return workflow.Result{
			Response: msg.CreateTextResponse(textChangeProfile),
			Action:   workflow.ActionJump,
			NextStep: workflow.StepProfileResolution,
		}, nil
	}

	profileID := handoffProfileID(wctx)
	if profileID == "" {
		profileID = sess.CurrentProfileID
	}
	if profileID == "" {
		return workflow.Result{
			Response: msg.CreateTextResponse(textQnANoProfile),
			Action:   workflow.ActionJump,
			NextStep: workflow.StepProfileResolution,
		}, nil
	}

	profile, err := s.profiles.ProfileByID(ctx, profileID)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("load profile for qna: %w", err)
	}
	if profile == nil {
		sess.CurrentProfileID = ""
		return workflow.Result{
			Response: msg.CreateTextResponse(textQnANoProfile),
			Action:   workflow.ActionJump,
			NextStep: workflow.StepProfileResolution,
		}, nil
	}

	state, _ := wctx[qnaStateKey].(*qnaState)
	if state == nil {
		state = &qnaState{}
	}

	if !state.Started || state.ProfileID != profile.ProfileID {
		state.Started = true
		state.ProfileID = profile.ProfileID
		welcome := fmt.Sprintf(textQnAWelcomeTpl, formatProfileName(profile.Name))
		return workflow.Result{
			Response: msg.CreateTextResponse(welcome,
				protocol.WithReplyOptions(qnaReplies(workflowID))),
			Action:         workflow.ActionRepeat,
			ContextUpdates: map[string]any{qnaStateKey: state},
		}, nil
	}

	answer, err := s.responder.Answer(ctx, profile, msg.Content, sess.ConversationHistory)
	if err != nil {
		logger.ErrorCF("steps", "QnA answer failed", map[string]any{
			"user_id": sess.UserID, "error": err.Error(),
		})
		return workflow.Result{
			Response:       msg.CreateTextResponse(textQnAAnswerFailed),
			Action:         workflow.ActionRepeat,
			ContextUpdates: map[string]any{qnaStateKey: state},
		}, nil
	}

	if answer.WantsProfileSwitch {
		sess.CurrentProfileID = ""
		return workflow.Result{
			Response: msg.CreateTextResponse(textChangeProfile),
			Action:   workflow.ActionJump,
			NextStep: workflow.StepProfileResolution,
		}, nil
	}

	response := msg.CreateTextResponse(answer.Text,
		protocol.WithReplyOptions(qnaReplies(workflowID)))
	if answer.Category != "" {
		response.AddMetadata("query_category", answer.Category)
	}
	return workflow.Result{
		Response:       response,
		Action:         workflow.ActionRepeat,
		ContextUpdates: map[string]any{qnaStateKey: state},
	}, nil
}

func qnaReplies(workflowID workflow.ID) []protocol.QuickReplyOption {
	return []protocol.QuickReplyOption{
		protocol.BuildQuickReply(string(workflowID), "change_profile", "Switch profile"),
	}
}
