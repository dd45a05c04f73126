package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

const (
	textPickProfile = "Alright, please pick the person whose astrological profile you want to use for this conversation.\n\nOr, add a new profile if needed."
	textCreateNew   = "Sure then, let's create a new profile." +
		"\n\nPlease share the person's:\n- Name\n- Date of Birth\n- Time of Birth\n- Place of Birth\n- Gender\n- Relationship to you"
	textNoProfiles = "You don't have any saved profiles yet. Let's add one now." +
		"\n\nPlease share the person's:\n- Name\n- Date of Birth\n- Time of Birth\n- Place of Birth\n- Gender\n- Relationship to you"
	textProfileSelected  = "Alright, I'm referring to *%s*'s astrological profile for this conversation."
	textInvalidProfileID = "That selection looks invalid. Please choose again."
	textProfilesHeader   = "I found these profiles linked to your account:"
	textProfilesFooter   = "You can choose one or create a new profile."
)

// ProfileResolutionStep settles which birth profile the rest of the workflow
// operates on: confirm the current one, pick another, or branch into profile
// creation. It always resolves through quick replies, never through free
// text, so downstream steps can trust the selection.
type ProfileResolutionStep struct {
	profiles store.ProfileStore
}

func NewProfileResolutionStep(profiles store.ProfileStore) *ProfileResolutionStep {
	return &ProfileResolutionStep{profiles: profiles}
}

func (s *ProfileResolutionStep) ID() workflow.StepID { return workflow.StepProfileResolution }

func (s *ProfileResolutionStep) Execute(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, _ map[string]any) (workflow.Result, error) {
	if msg.SelectedReply.HasValidFormat() {
		if result, handled := s.handleQuickReply(ctx, msg, sess, workflowID); handled {
			return result, nil
		}
	}

	// No (recognized) quick reply: present the current profile, the full
	// list, or the creation prompt.
	if sess.CurrentProfileID != "" {
		current, err := s.profiles.ProfileByID(ctx, sess.CurrentProfileID)
		if err != nil {
			return workflow.Result{}, fmt.Errorf("load current profile: %w", err)
		}
		if current == nil {
			logger.WarnCF("steps", "Current profile vanished, resetting", map[string]any{
				"user_id": sess.UserID, "profile_id": sess.CurrentProfileID,
			})
			sess.CurrentProfileID = ""
		} else {
			all, err := s.profiles.ProfilesForUser(ctx, sess.UserID)
			if err != nil {
				return workflow.Result{}, fmt.Errorf("list profiles: %w", err)
			}
			response := msg.CreateTextResponse(textPickProfile,
				protocol.WithReplyOptions(s.repliesForCurrent(workflowID, current, all)),
			)
			return workflow.Result{Response: response, Action: workflow.ActionRepeat}, nil
		}
	}

	all, err := s.profiles.ProfilesForUser(ctx, sess.UserID)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("list profiles: %w", err)
	}
	if len(all) > 0 {
		response := msg.CreateTextResponse(profileListText(all),
			protocol.WithReplyOptions(s.repliesForSelection(workflowID, all)),
		)
		return workflow.Result{Response: response, Action: workflow.ActionRepeat}, nil
	}

	// Nothing saved yet: branch straight into profile creation. Creation
	// always lives in the kundli workflow, regardless of where resolution
	// was reached from.
	return workflow.Result{
		Response:     msg.CreateTextResponse(textNoProfiles),
		Action:       workflow.ActionJump,
		NextStep:     workflow.StepProfileAddition,
		NextWorkflow: workflow.GenerateKundli,
	}, nil
}

func (s *ProfileResolutionStep) handleQuickReply(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID) (workflow.Result, bool) {
	switch msg.SelectedReply.Action() {
	case "use_current":
		if sess.CurrentProfileID == "" {
			return workflow.Result{}, false
		}
		return s.selectProfile(ctx, msg, sess, sess.CurrentProfileID), true

	case "create_new":
		return workflow.Result{
			Response:     msg.CreateTextResponse(textCreateNew),
			Action:       workflow.ActionJump,
			NextStep:     workflow.StepProfileAddition,
			NextWorkflow: workflow.GenerateKundli,
		}, true

	case "choose_another":
		all, err := s.profiles.ProfilesForUser(ctx, sess.UserID)
		if err != nil || len(all) == 0 {
			return workflow.Result{}, false
		}
		response := msg.CreateTextResponse(profileListText(all),
			protocol.WithReplyOptions(s.repliesForSelection(workflowID, all)),
		)
		return workflow.Result{Response: response, Action: workflow.ActionRepeat}, true

	case "select_specific_profile":
		pid := msg.SelectedReply.Suffix()
		if pid == "" {
			return workflow.Result{
				Response: msg.CreateTextResponse(textInvalidProfileID),
				Action:   workflow.ActionRepeat,
			}, true
		}
		return s.selectProfile(ctx, msg, sess, pid), true
	}
	return workflow.Result{}, false
}

// selectProfile fixes the session on a profile and hands off to the next
// step in the parent workflow within the same turn.
func (s *ProfileResolutionStep) selectProfile(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, profileID string) workflow.Result {
	profile, err := s.profiles.ProfileByID(ctx, profileID)
	if err != nil || profile == nil {
		logger.WarnCF("steps", "Selected profile not found", map[string]any{
			"user_id": sess.UserID, "profile_id": profileID,
		})
		return workflow.Result{
			Response: msg.CreateTextResponse(textInvalidProfileID),
			Action:   workflow.ActionRepeat,
		}
	}

	sess.CurrentProfileID = profile.ProfileID
	response := msg.CreateTextResponse(fmt.Sprintf(textProfileSelected, formatProfileName(profile.Name)))
	return workflow.Result{
		Response: response,
		Action:   workflow.ActionAdvanceNow,
		ContextUpdates: map[string]any{
			workflow.HandoffKey: map[string]any{
				"profile_selected": true,
				"profile_id":       profile.ProfileID,
			},
		},
	}
}

func (s *ProfileResolutionStep) repliesForCurrent(workflowID workflow.ID, current *store.Profile, all []store.Profile) []protocol.QuickReplyOption {
	options := []protocol.QuickReplyOption{
		protocol.BuildQuickReply(string(workflowID), "use_current", formatProfileName(current.Name)),
	}

	others := make([]store.Profile, 0, len(all))
	for _, p := range all {
		if p.ProfileID != current.ProfileID {
			others = append(others, p)
		}
	}
	switch {
	case len(others) > 1:
		options = append(options,
			protocol.BuildQuickReply(string(workflowID), "choose_another", "Choose Profile"))
	case len(others) == 1:
		options = append(options,
			protocol.BuildQuickReply(string(workflowID), "select_specific_profile",
				formatProfileName(others[0].Name), others[0].ProfileID))
	}

	return append(options,
		protocol.BuildQuickReply(string(workflowID), "create_new", "Add New Profile"))
}

func (s *ProfileResolutionStep) repliesForSelection(workflowID workflow.ID, profiles []store.Profile) []protocol.QuickReplyOption {
	options := make([]protocol.QuickReplyOption, 0, len(profiles)+1)
	for i, p := range profiles {
		label := fmt.Sprintf("%d. %s", i+1, p.Name)
		options = append(options,
			protocol.BuildQuickReply(string(workflowID), "select_specific_profile",
				formatProfileName(label), p.ProfileID))
	}
	return append(options,
		protocol.BuildQuickReply(string(workflowID), "create_new", "Add New Profile"))
}

func profileListText(profiles []store.Profile) string {
	var b strings.Builder
	b.WriteString(textProfilesHeader)
	for i, p := range profiles {
		name := p.Name
		if name == "" {
			name = "Unnamed"
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, name)
	}
	b.WriteString("\n\n")
	b.WriteString(textProfilesFooter)
	return b.String()
}
