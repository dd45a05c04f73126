package steps

import (
	"context"
	"strings"
	"testing"

	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

func resolutionFixture(profiles ...store.Profile) (*ProfileResolutionStep, *fakeProfileStore) {
	ps := &fakeProfileStore{profiles: profiles}
	return NewProfileResolutionStep(ps), ps
}

func TestProfileResolution_UseCurrentAdvancesWithHandoff(t *testing.T) {
	step, _ := resolutionFixture(store.Profile{ProfileID: "p-1", UserID: "u-1", Name: "asha", IsDefault: true})

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	res, err := step.Execute(context.Background(),
		stepMsgWithReply("generate_kundli__use_current"), sess, workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionAdvanceNow {
		t.Fatalf("use_current should advance immediately, got %s", res.Action)
	}
	handoff, _ := res.ContextUpdates[workflow.HandoffKey].(map[string]any)
	if handoff["profile_id"] != "p-1" || handoff["profile_selected"] != true {
		t.Errorf("handoff not populated: %v", handoff)
	}
	if !strings.Contains(res.Response.Content, "Asha") {
		t.Errorf("selection reply should name the profile, got %q", res.Response.Content)
	}
}

func TestProfileResolution_CreateNewJumpsToAddition(t *testing.T) {
	step, _ := resolutionFixture(store.Profile{ProfileID: "p-1", UserID: "u-1", Name: "asha"})

	sess := stepSession(2)
	res, err := step.Execute(context.Background(),
		stepMsgWithReply("profile_qna__create_new"), sess, workflow.ProfileQnA, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionJump {
		t.Fatalf("create_new should jump, got %s", res.Action)
	}
	if res.NextStep != workflow.StepProfileAddition || res.NextWorkflow != workflow.GenerateKundli {
		t.Errorf("creation lives in the kundli workflow, got step=%s workflow=%s", res.NextStep, res.NextWorkflow)
	}
}

func TestProfileResolution_SelectSpecificProfile(t *testing.T) {
	step, _ := resolutionFixture(
		store.Profile{ProfileID: "p-1", UserID: "u-1", Name: "asha"},
		store.Profile{ProfileID: "p-2", UserID: "u-1", Name: "ravi"},
	)

	sess := stepSession(2)
	res, err := step.Execute(context.Background(),
		stepMsgWithReply("generate_kundli__select_specific_profile__p-2"), sess, workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionAdvanceNow {
		t.Fatalf("selection should advance, got %s", res.Action)
	}
	if sess.CurrentProfileID != "p-2" {
		t.Errorf("session should adopt the selected profile, got %q", sess.CurrentProfileID)
	}
}

func TestProfileResolution_UnknownProfileIDRepeats(t *testing.T) {
	step, _ := resolutionFixture(store.Profile{ProfileID: "p-1", UserID: "u-1", Name: "asha"})

	sess := stepSession(2)
	res, err := step.Execute(context.Background(),
		stepMsgWithReply("generate_kundli__select_specific_profile__nope"), sess, workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionRepeat {
		t.Errorf("bad selection should repeat, got %s", res.Action)
	}
	if res.Response.Content != textInvalidProfileID {
		t.Errorf("expected invalid-selection text, got %q", res.Response.Content)
	}
}

func TestProfileResolution_CurrentProfilePromptsForConfirmation(t *testing.T) {
	step, _ := resolutionFixture(
		store.Profile{ProfileID: "p-1", UserID: "u-1", Name: "asha", IsDefault: true},
		store.Profile{ProfileID: "p-2", UserID: "u-1", Name: "ravi"},
	)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	res, err := step.Execute(context.Background(), stepMsg("my kundli please"), sess, workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionRepeat {
		t.Fatalf("prompt turn should repeat, got %s", res.Action)
	}
	opts := res.Response.ReplyOptions
	if len(opts) != 3 {
		t.Fatalf("expected use_current + one named other + create_new, got %d options", len(opts))
	}
	if opts[0].ID != "generate_kundli__use_current" {
		t.Errorf("first option should be use_current, got %q", opts[0].ID)
	}
	// Exactly one other profile is offered directly by name.
	if opts[1].ID != "generate_kundli__select_specific_profile__p-2" {
		t.Errorf("second option should select the other profile, got %q", opts[1].ID)
	}
	if opts[2].ID != "generate_kundli__create_new" {
		t.Errorf("last option should be create_new, got %q", opts[2].ID)
	}
}

func TestProfileResolution_NoProfilesJumpsToCreation(t *testing.T) {
	step, _ := resolutionFixture()

	sess := stepSession(2)
	res, err := step.Execute(context.Background(), stepMsg("my kundli please"), sess, workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionJump || res.NextStep != workflow.StepProfileAddition {
		t.Errorf("no saved profiles should branch into creation, got %+v", res)
	}
	if !strings.Contains(res.Response.Content, "don't have any saved profiles") {
		t.Errorf("expected no-profiles text, got %q", res.Response.Content)
	}
}
