package steps

import (
	"context"
	"strings"
	"testing"

	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

func kundliFixture(gen *fakeGenerator) (*KundliStep, *fakeProfileStore) {
	profiles := &fakeProfileStore{profiles: []store.Profile{
		{ProfileID: "p-1", UserID: "u-1", Name: "asha", IsDefault: true},
	}}
	return NewKundliStep(profiles, gen), profiles
}

func TestKundli_NoProfileJumpsToResolution(t *testing.T) {
	step, _ := kundliFixture(&fakeGenerator{})

	res, err := step.Execute(context.Background(), stepMsg("kundli please"), stepSession(1), workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionJump || res.NextStep != workflow.StepProfileResolution {
		t.Errorf("missing profile should jump to resolution, got %+v", res)
	}
}

func TestKundli_FirstTurnShowsSunSignOffer(t *testing.T) {
	gen := &fakeGenerator{summary: "Capricorn: disciplined and ambitious."}
	step, _ := kundliFixture(gen)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	res, err := step.Execute(context.Background(), stepMsg("ok"), sess, workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionRepeat {
		t.Fatalf("offer turn should repeat, got %s", res.Action)
	}
	if !strings.Contains(res.Response.Content, "Capricorn") {
		t.Errorf("offer should lead with the sun sign summary, got %q", res.Response.Content)
	}
	if len(res.Response.ReplyOptions) != 2 {
		t.Errorf("offer should carry yes/no options, got %d", len(res.Response.ReplyOptions))
	}
}

func TestKundli_AcceptDeliversDocument(t *testing.T) {
	gen := &fakeGenerator{outcome: KundliOutcome{
		Summary:      "Your detailed kundli is ready!",
		Document:     []byte("%PDF-"),
		DocumentName: "kundli.pdf",
	}}
	step, _ := kundliFixture(gen)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	wctx := map[string]any{}
	res, _ := step.Execute(context.Background(), stepMsg("ok"), sess, workflow.GenerateKundli, wctx)
	wctx = applyUpdates(wctx, res)

	res, err := step.Execute(context.Background(),
		stepMsgWithReply("generate_kundli__confirm_kundli_yes"), sess, workflow.GenerateKundli, wctx)
	if err != nil {
		t.Fatalf("accept turn: %v", err)
	}
	if res.Action != workflow.ActionComplete {
		t.Errorf("delivery should complete the workflow, got %s", res.Action)
	}
	if res.Response.ContentType != protocol.ContentDocument {
		t.Errorf("delivered kundli should be a document, got %s", res.Response.ContentType)
	}
	if res.Response.Metadata["document_name"] != "kundli.pdf" {
		t.Error("document name should ride along in metadata")
	}
	if gen.generateCalls != 1 {
		t.Errorf("expected one generation, got %d", gen.generateCalls)
	}
}

func TestKundli_DeclineCompletesWithoutGenerating(t *testing.T) {
	gen := &fakeGenerator{}
	step, _ := kundliFixture(gen)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	wctx := map[string]any{}
	res, _ := step.Execute(context.Background(), stepMsg("ok"), sess, workflow.GenerateKundli, wctx)
	wctx = applyUpdates(wctx, res)

	res, err := step.Execute(context.Background(),
		stepMsgWithReply("generate_kundli__confirm_kundli_no"), sess, workflow.GenerateKundli, wctx)
	if err != nil {
		t.Fatalf("decline turn: %v", err)
	}
	if res.Action != workflow.ActionComplete {
		t.Errorf("decline should complete, got %s", res.Action)
	}
	if gen.generateCalls != 0 {
		t.Error("declining must not trigger generation")
	}
}

func TestKundli_FreeTextQuestionGetsNudge(t *testing.T) {
	gen := &fakeGenerator{offerReply: OfferQuestion}
	step, _ := kundliFixture(gen)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	wctx := map[string]any{}
	res, _ := step.Execute(context.Background(), stepMsg("ok"), sess, workflow.GenerateKundli, wctx)
	wctx = applyUpdates(wctx, res)

	res, err := step.Execute(context.Background(), stepMsg("what does my moon sign mean?"), sess, workflow.GenerateKundli, wctx)
	if err != nil {
		t.Fatalf("question turn: %v", err)
	}
	if res.Action != workflow.ActionRepeat {
		t.Errorf("question should keep the offer open, got %s", res.Action)
	}
	if !strings.Contains(res.Response.Content, "detailed kundli") {
		t.Errorf("nudge should steer back to the offer, got %q", res.Response.Content)
	}
}

func TestKundli_PaymentGatedGenerationWaitsAndResumes(t *testing.T) {
	gen := &fakeGenerator{outcome: KundliOutcome{
		PaymentPending: true,
		PaymentLink:    "https://pay.example/abc",
	}}
	step, _ := kundliFixture(gen)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	wctx := map[string]any{}
	res, _ := step.Execute(context.Background(), stepMsg("ok"), sess, workflow.GenerateKundli, wctx)
	wctx = applyUpdates(wctx, res)

	res, err := step.Execute(context.Background(),
		stepMsgWithReply("generate_kundli__confirm_kundli_yes"), sess, workflow.GenerateKundli, wctx)
	if err != nil {
		t.Fatalf("accept turn: %v", err)
	}
	if res.Action != workflow.ActionWait {
		t.Fatalf("pending payment should park the workflow, got %s", res.Action)
	}
	if res.WaitFor == nil || res.WaitFor.EventType != "payment_success" {
		t.Fatalf("wait event should be payment_success, got %+v", res.WaitFor)
	}
	if !strings.Contains(res.Response.Content, "https://pay.example/abc") {
		t.Errorf("payment reply should carry the link, got %q", res.Response.Content)
	}
	wctx = applyUpdates(wctx, res)

	// Payment clears; the generator now succeeds.
	gen.outcome = KundliOutcome{Summary: "Here is your kundli."}
	result, err := step.OnEvent(context.Background(), "payment_success", map[string]any{"amount": 199}, stepMsg(""), workflow.GenerateKundli, wctx)
	if err != nil {
		t.Fatalf("on event: %v", err)
	}
	if result == nil || result.Action != workflow.ActionComplete {
		t.Fatalf("payment event should complete the workflow, got %+v", result)
	}
	if result.Response.Content != "Here is your kundli." {
		t.Errorf("resumed delivery content wrong: %q", result.Response.Content)
	}
}

func TestKundli_IgnoresUnrelatedEvents(t *testing.T) {
	step, _ := kundliFixture(&fakeGenerator{})
	result, err := step.OnEvent(context.Background(), "document_ready", nil, stepMsg(""), workflow.GenerateKundli, map[string]any{})
	if err != nil {
		t.Fatalf("on event: %v", err)
	}
	if result != nil {
		t.Error("unrelated events should be ignored")
	}
}

func TestKundli_HandoffProfileWins(t *testing.T) {
	profiles := &fakeProfileStore{profiles: []store.Profile{
		{ProfileID: "p-1", UserID: "u-1", Name: "asha"},
		{ProfileID: "p-2", UserID: "u-1", Name: "ravi"},
	}}
	gen := &fakeGenerator{summary: "Leo: bold."}
	step := NewKundliStep(profiles, gen)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	wctx := map[string]any{
		workflow.HandoffKey: map[string]any{"profile_selected": true, "profile_id": "p-2"},
	}
	res, err := step.Execute(context.Background(), stepMsg("ok"), sess, workflow.GenerateKundli, wctx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ContextUpdates["profile_id"] != "p-2" {
		t.Errorf("handoff profile should take precedence, got %v", res.ContextUpdates["profile_id"])
	}
}
