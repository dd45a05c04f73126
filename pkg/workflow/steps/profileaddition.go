package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

const (
	textAskBirthPlace      = "Please share the city of birth for this profile."
	textLocationNotFound   = "I couldn't find any locations matching '%s'. Please check the location name."
	textConfirmationNudge  = "Please confirm if all details are correct. Type 'yes' to proceed or 'no' to make changes."
	textExtractionTrouble  = "I had trouble understanding that. Could you share the details again?"
	textProfileNotSet      = "Not set"
	textCreationSuccessTpl = "Perfect! I've saved %s's profile successfully." +
		"\n\nI can now generate the detailed Vedic natal birth chart (kundli) for %s." +
		"\n\nWould you like to proceed?"
)

// additionStage is the internal phase of the profile creation flow. The
// whole flow is one workflow step externally; stages only steer which
// interpretation the next user message gets.
type additionStage string

const (
	stageBasicDetails       additionStage = "basic_details"
	stageLocationResolution additionStage = "location_resolution"
	stageConfirmation       additionStage = "confirmation"
	stageCompleted          additionStage = "completed"
)

// additionState is the in-flight profile under construction. It lives in
// the workflow context under stateKey and never leaves the process.
type additionState struct {
	Stage             additionStage
	Details           BasicDetails
	BirthLocationID   int64
	Candidates        []store.Location
	SelectedLocation  *store.Location
	ConfirmationShown bool
}

const additionStateKey = "profile_state"

// ProfileAdditionStep collects birth details over multiple turns, resolves
// the birth place to a known location, confirms the summary with the user
// and persists the profile with the birth time normalized to UTC.
type ProfileAdditionStep struct {
	extractor DetailExtractor
	profiles  store.ProfileStore
	locations store.LocationResolver
}

func NewProfileAdditionStep(extractor DetailExtractor, profiles store.ProfileStore, locations store.LocationResolver) *ProfileAdditionStep {
	return &ProfileAdditionStep{extractor: extractor, profiles: profiles, locations: locations}
}

func (s *ProfileAdditionStep) ID() workflow.StepID { return workflow.StepProfileAddition }

func (s *ProfileAdditionStep) Execute(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, wctx map[string]any) (workflow.Result, error) {
	// A handoff saying a profile is already selected means resolution
	// settled the question upstream; skip creation entirely.
	if h := handoffData(wctx); h != nil {
		if selected, _ := h["profile_selected"].(bool); selected {
			logger.DebugCF("steps", "Profile already selected, skipping addition", map[string]any{
				"user_id": sess.UserID,
			})
			return workflow.Result{
				Action:         workflow.ActionAdvanceNow,
				ContextUpdates: map[string]any{workflow.HandoffKey: nil},
			}, nil
		}
	}

	state := additionStateFrom(wctx)

	if msg.SelectedReply.HasValidFormat() {
		switch msg.SelectedReply.Action() {
		case "confirm_profile_yes":
			if state.Stage == stageConfirmation {
				return s.createProfile(ctx, msg, sess, workflowID, state)
			}
		case "confirm_profile_no":
			if state.Stage == stageConfirmation {
				state.ConfirmationShown = false
				return repeatWith(msg.CreateTextResponse("No problem, what would you like to change?"), state), nil
			}
		}
	}

	switch state.Stage {
	case stageLocationResolution:
		return s.stageLocationResolution(ctx, msg, sess, workflowID, state)
	case stageConfirmation:
		return s.stageConfirmation(ctx, msg, sess, workflowID, state)
	default:
		return s.stageBasicDetails(ctx, msg, sess, state)
	}
}

func additionStateFrom(wctx map[string]any) *additionState {
	if st, ok := wctx[additionStateKey].(*additionState); ok {
		return st
	}
	return &additionState{Stage: stageBasicDetails}
}

// repeatWith stays on the step and persists the updated state.
func repeatWith(response *protocol.ResponseMessage, state *additionState) workflow.Result {
	return workflow.Result{
		Response:       response,
		Action:         workflow.ActionRepeat,
		ContextUpdates: map[string]any{additionStateKey: state},
	}
}

func (s *ProfileAdditionStep) stageBasicDetails(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, state *additionState) (workflow.Result, error) {
	extraction, err := s.extractor.ExtractBasicDetails(ctx, msg.Content, state.Details, sess.ConversationHistory)
	if err != nil {
		logger.ErrorCF("steps", "Detail extraction failed", map[string]any{
			"user_id": sess.UserID, "error": err.Error(),
		})
		return repeatWith(msg.CreateTextResponse(textExtractionTrouble), state), nil
	}

	s.mergeDetails(&state.Details, extraction.Details, state, sess.UserID)

	if hasAllBasicDetails(state.Details) {
		logger.InfoCF("steps", "Basic details complete, resolving location", map[string]any{
			"user_id": sess.UserID, "birth_place": state.Details.BirthPlace,
		})
		return s.startLocationResolution(ctx, msg, sess, state)
	}

	reply := extraction.Reply
	if reply == "" {
		reply = "Got it. " + missingDetailsPrompt(state.Details)
	}
	return repeatWith(msg.CreateTextResponse(reply), state), nil
}

// mergeDetails folds newly extracted fields into the accumulated state. A
// changed birth place invalidates any previously resolved location.
func (s *ProfileAdditionStep) mergeDetails(dst *BasicDetails, src BasicDetails, state *additionState, userID string) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.BirthDate != "" {
		dst.BirthDate = src.BirthDate
	}
	if src.BirthTime != "" {
		dst.BirthTime = src.BirthTime
	}
	if src.BirthPlace != "" && src.BirthPlace != dst.BirthPlace {
		logger.InfoCF("steps", "Birth place changed, resetting location", map[string]any{
			"user_id": userID, "birth_place": src.BirthPlace,
		})
		dst.BirthPlace = src.BirthPlace
		state.BirthLocationID = 0
		state.SelectedLocation = nil
	}
	if src.Gender != "" {
		dst.Gender = src.Gender
	}
	if src.Relationship != "" {
		dst.Relationship = src.Relationship
	}
}

func (s *ProfileAdditionStep) startLocationResolution(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, state *additionState) (workflow.Result, error) {
	candidates, err := s.locations.SearchLocations(ctx, state.Details.BirthPlace, 5)
	if err != nil {
		return workflow.Result{}, fmt.Errorf("search locations: %w", err)
	}

	switch len(candidates) {
	case 0:
		logger.WarnCF("steps", "No location matches", map[string]any{
			"user_id": sess.UserID, "birth_place": state.Details.BirthPlace,
		})
		state.Stage = stageBasicDetails
		text := fmt.Sprintf(textLocationNotFound, state.Details.BirthPlace)
		return repeatWith(msg.CreateTextResponse(text), state), nil

	case 1:
		loc := candidates[0]
		s.selectLocation(state, loc)
		return repeatWith(s.confirmationResponse(msg, state), state), nil

	default:
		state.Stage = stageLocationResolution
		state.Candidates = candidates
		return repeatWith(msg.CreateTextResponse(locationCandidatesText(candidates)), state), nil
	}
}

func (s *ProfileAdditionStep) selectLocation(state *additionState, loc store.Location) {
	state.BirthLocationID = loc.ID
	state.Details.BirthPlace = loc.DisplayName()
	locCopy := loc
	state.SelectedLocation = &locCopy
	state.Candidates = nil
	state.Stage = stageConfirmation
	state.ConfirmationShown = true
}

func (s *ProfileAdditionStep) stageLocationResolution(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, state *additionState) (workflow.Result, error) {
	if len(state.Candidates) == 0 {
		if state.Details.BirthPlace == "" {
			state.Stage = stageBasicDetails
			return repeatWith(msg.CreateTextResponse(textAskBirthPlace), state), nil
		}
		return s.startLocationResolution(ctx, msg, sess, state)
	}

	selectedID, reply, err := s.extractor.ResolveLocationChoice(ctx, msg.Content, state.Candidates)
	if err != nil {
		logger.ErrorCF("steps", "Location choice interpretation failed", map[string]any{
			"user_id": sess.UserID, "error": err.Error(),
		})
		return repeatWith(msg.CreateTextResponse(textExtractionTrouble), state), nil
	}

	if selectedID != 0 {
		for _, loc := range state.Candidates {
			if loc.ID == selectedID {
				logger.InfoCF("steps", "Location selected", map[string]any{
					"user_id": sess.UserID, "location": loc.DisplayName(),
				})
				s.selectLocation(state, loc)
				return repeatWith(s.confirmationResponse(msg, state), state), nil
			}
		}
	}

	if reply == "" {
		reply = locationCandidatesText(state.Candidates)
	}
	return repeatWith(msg.CreateTextResponse(reply), state), nil
}

func (s *ProfileAdditionStep) stageConfirmation(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, state *additionState) (workflow.Result, error) {
	confirmation, err := s.extractor.InterpretConfirmation(ctx, msg.Content, confirmationSummary(state))
	if err != nil {
		logger.ErrorCF("steps", "Confirmation interpretation failed", map[string]any{
			"user_id": sess.UserID, "error": err.Error(),
		})
		return repeatWith(msg.CreateTextResponse(textExtractionTrouble), state), nil
	}

	if confirmation.Edits != nil {
		state.ConfirmationShown = false
		birthPlaceChanged := confirmation.Edits.BirthPlace != "" &&
			confirmation.Edits.BirthPlace != state.Details.BirthPlace
		s.mergeDetails(&state.Details, *confirmation.Edits, state, sess.UserID)

		if birthPlaceChanged {
			return s.startLocationResolution(ctx, msg, sess, state)
		}
		// Re-show the updated summary for another confirmation round.
		return repeatWith(s.confirmationResponse(msg, state), state), nil
	}

	if confirmation.WantsBirthPlaceChange {
		state.Stage = stageBasicDetails
		state.ConfirmationShown = false
		state.Details.BirthPlace = ""
		state.BirthLocationID = 0
		state.SelectedLocation = nil
		return repeatWith(msg.CreateTextResponse(textAskBirthPlace), state), nil
	}

	if confirmation.Confirmed {
		return s.createProfile(ctx, msg, sess, workflowID, state)
	}

	if confirmation.Reply != "" {
		return repeatWith(msg.CreateTextResponse(confirmation.Reply), state), nil
	}
	text := textConfirmationNudge
	if !state.ConfirmationShown {
		text = confirmationSummary(state)
		state.ConfirmationShown = true
	}
	return repeatWith(msg.CreateTextResponse(text,
		protocol.WithReplyOptions(confirmationReplies(workflowID))), state), nil
}

func (s *ProfileAdditionStep) createProfile(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID workflow.ID, state *additionState) (workflow.Result, error) {
	birthLocal, parseErr := parseBirthDatetime(state.Details.BirthDate, state.Details.BirthTime)
	if parseErr != nil {
		logger.WarnCF("steps", "Unparseable birth datetime", map[string]any{
			"user_id": sess.UserID, "date": state.Details.BirthDate, "time": state.Details.BirthTime,
		})
		state.Stage = stageBasicDetails
		return repeatWith(msg.CreateTextResponse("I couldn't make sense of the birth date and time. Could you share them again?"), state), nil
	}

	var loc *store.Location
	if state.BirthLocationID != 0 {
		var err error
		loc, err = s.locations.LocationByID(ctx, state.BirthLocationID)
		if err != nil {
			logger.WarnCF("steps", "Location lookup failed, storing local time", map[string]any{
				"user_id": sess.UserID, "location_id": state.BirthLocationID, "error": err.Error(),
			})
		}
	}

	profile := &store.Profile{
		UserID:          sess.UserID,
		Name:            state.Details.Name,
		Gender:          state.Details.Gender,
		Relationship:    state.Details.Relationship,
		BirthDatetime:   BirthTimeUTC(birthLocal, loc),
		BirthPlace:      state.Details.BirthPlace,
		BirthLocationID: state.BirthLocationID,
	}
	if err := s.profiles.CreateProfile(ctx, profile); err != nil {
		return workflow.Result{}, fmt.Errorf("create profile: %w", err)
	}

	sess.CurrentProfileID = profile.ProfileID
	state.Stage = stageCompleted
	logger.InfoCF("steps", "Profile created", map[string]any{
		"user_id": sess.UserID, "profile_id": profile.ProfileID, "name": profile.Name,
	})

	name := formatProfileName(profile.Name)
	response := msg.CreateTextResponse(fmt.Sprintf(textCreationSuccessTpl, name, name),
		protocol.WithReplyOptions([]protocol.QuickReplyOption{
			protocol.BuildQuickReply(string(workflow.GenerateKundli), "confirm_kundli_yes", "Yes, let's do it now"),
			protocol.BuildQuickReply(string(workflowID), "confirm_kundli_no", "No, I'll do it later"),
		}),
	)
	return workflow.Result{
		Response: response,
		Action:   workflow.ActionContinue,
		ContextUpdates: map[string]any{
			additionStateKey:  state,
			"profile_id":      profile.ProfileID,
			"profile_created": true,
		},
	}, nil
}

func (s *ProfileAdditionStep) confirmationResponse(msg *protocol.RequestMessage, state *additionState) *protocol.ResponseMessage {
	return msg.CreateTextResponse(confirmationSummary(state),
		protocol.WithReplyOptions(confirmationReplies(workflow.GenerateKundli)))
}

func confirmationReplies(workflowID workflow.ID) []protocol.QuickReplyOption {
	return []protocol.QuickReplyOption{
		protocol.BuildQuickReply(string(workflowID), "confirm_profile_yes", "Yes, looks good"),
		protocol.BuildQuickReply(string(workflowID), "confirm_profile_no", "No, make changes"),
	}
}

func hasAllBasicDetails(d BasicDetails) bool {
	return d.Name != "" && d.BirthDate != "" && d.BirthTime != "" &&
		d.BirthPlace != "" && d.Gender != "" && d.Relationship != ""
}

func missingDetailsPrompt(d BasicDetails) string {
	var missing []string
	if d.Name == "" {
		missing = append(missing, "name")
	}
	if d.BirthDate == "" {
		missing = append(missing, "date of birth")
	}
	if d.BirthTime == "" {
		missing = append(missing, "time of birth")
	}
	if d.BirthPlace == "" {
		missing = append(missing, "place of birth")
	}
	if d.Gender == "" {
		missing = append(missing, "gender")
	}
	if d.Relationship == "" {
		missing = append(missing, "relationship to you")
	}
	return "Could you also share the " + strings.Join(missing, ", ") + "?"
}

func locationCandidatesText(candidates []store.Location) string {
	var b strings.Builder
	b.WriteString("I found a few places with that name. Which one is it?")
	for i, loc := range candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, loc.DisplayName())
	}
	return b.String()
}

func confirmationSummary(state *additionState) string {
	d := state.Details
	tzInfo := ""
	if state.SelectedLocation != nil && state.SelectedLocation.Timezone != "" {
		tzInfo = fmt.Sprintf(" (Timezone: %s)", state.SelectedLocation.Timezone)
	}

	birthDate := textProfileNotSet
	if t, err := time.Parse("2006-01-02", d.BirthDate); err == nil {
		birthDate = t.Format("January 02, 2006")
	}
	birthTime := textProfileNotSet
	if t, err := parseClock(d.BirthTime); err == nil {
		birthTime = t.Format("03:04 PM")
	}
	orNotSet := func(v string) string {
		if v == "" {
			return textProfileNotSet
		}
		return v
	}

	return "Great! Here's a summary of the profile:\n\n" +
		fmt.Sprintf("👤 Name: %s\n", orNotSet(d.Name)) +
		fmt.Sprintf("📅 Birth Date: %s\n", birthDate) +
		fmt.Sprintf("🕐 Birth Time: %s\n", birthTime) +
		fmt.Sprintf("📍 Birth Place: %s%s\n", orNotSet(d.BirthPlace), tzInfo) +
		fmt.Sprintf("⚧ Gender: %s\n", orNotSet(string(d.Gender))) +
		fmt.Sprintf("💑 Relationship: %s\n", orNotSet(string(d.Relationship))) +
		"\nPlease confirm if all details are correct."
}

// parseBirthDatetime combines a 2006-01-02 date and a wall-clock time into
// one naive datetime (no zone applied yet).
func parseBirthDatetime(dateStr, timeStr string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse birth date %q: %w", dateStr, err)
	}
	clock, err := parseClock(timeStr)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC), nil
}

func parseClock(timeStr string) (time.Time, error) {
	for _, layout := range []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"} {
		if t, err := time.Parse(layout, timeStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse birth time %q", timeStr)
}

// BirthTimeUTC reinterprets a wall-clock birth time in the location's IANA
// timezone and converts it to UTC for storage. The input comes back
// unchanged when the location is unknown or its zone cannot be loaded, so a
// failed resolution degrades to storing the time as given.
func BirthTimeUTC(wallClock time.Time, loc *store.Location) time.Time {
	if loc == nil || loc.Timezone == "" {
		return wallClock
	}
	zone, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		logger.WarnCF("steps", "Unknown timezone, storing local time", map[string]any{
			"timezone": loc.Timezone,
		})
		return wallClock
	}
	local := time.Date(wallClock.Year(), wallClock.Month(), wallClock.Day(),
		wallClock.Hour(), wallClock.Minute(), wallClock.Second(), wallClock.Nanosecond(), zone)
	return local.UTC()
}
