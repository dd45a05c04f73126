package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lunalabs/luna/pkg/intent"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

type fakeClassifier struct {
	result string
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ intent.Input) (string, error) {
	f.calls++
	return f.result, f.err
}

type fakeUsers struct {
	err error
}

func (f *fakeUsers) ResolveUser(_ context.Context, channel store.ChannelType, channelUserID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("u-%s-%s", channel, channelUserID), nil
}

// stubStep replies with fixed text and action.
type stubStep struct {
	id     workflow.StepID
	text   string
	action workflow.Action
}

func (s *stubStep) ID() workflow.StepID { return s.id }

func (s *stubStep) Execute(_ context.Context, msg *protocol.RequestMessage, _ *session.Session, _ workflow.ID, _ map[string]any) (workflow.Result, error) {
	return workflow.Result{
		Response: msg.CreateTextResponse(s.text),
		Action:   s.action,
	}, nil
}

func testEngine(t *testing.T) *workflow.Engine {
	t.Helper()
	reg := workflow.NewRegistry()
	singles := []struct {
		wf     workflow.ID
		step   workflow.StepID
		text   string
		action workflow.Action
	}{
		{workflow.GenerateKundli, workflow.StepKundliGeneration, "kundli flow", workflow.ActionRepeat},
		{workflow.ProfileQnA, workflow.StepProfileQnA, "qna flow", workflow.ActionRepeat},
		{workflow.MainMenu, workflow.StepMainMenu, "main menu", workflow.ActionComplete},
		{workflow.Unknown, workflow.StepUnknownFallback, "fallback", workflow.ActionComplete},
	}
	for _, s := range singles {
		reg.RegisterStep(&stubStep{id: s.step, text: s.text, action: s.action})
		reg.RegisterWorkflow(workflow.Definition{
			ID:          s.wf,
			Steps:       []workflow.StepID{s.step},
			InitialStep: s.step,
		})
	}
	engine, err := workflow.NewEngine(reg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine
}

func testRouter(t *testing.T, classifier intent.Classifier, users store.UserStore) (*Router, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(session.DefaultConfig(), nil, nil)
	return New(sessions, classifier, testEngine(t), users, nil), sessions
}

// recordingConversations captures SaveMessage calls; the read side is inert.
type recordingConversations struct {
	saved []store.Conversation
	err   error
}

func (r *recordingConversations) SaveMessage(_ context.Context, userID string, channel store.ChannelType, mt store.MessageType, content string, info map[string]any) (*store.Conversation, error) {
	if r.err != nil {
		return nil, r.err
	}
	c := store.Conversation{
		UserID: userID, Channel: channel, MessageType: mt,
		Content: content, AdditionalInfo: info, CreatedAt: time.Now().UTC(),
	}
	r.saved = append(r.saved, c)
	return &c, nil
}

func (r *recordingConversations) ConversationHistory(context.Context, string, store.ChannelType, int) ([]store.Conversation, error) {
	return nil, nil
}

func (r *recordingConversations) CleanupOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func inboundMsg(content string) *protocol.RequestMessage {
	return &protocol.RequestMessage{
		ChannelType:   "telegram",
		ChannelUserID: "tg-1",
		ContentType:   protocol.ContentText,
		Content:       content,
		Timestamp:     time.Now().UTC(),
	}
}

func TestIsSlashCommand(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"/luna", true},
		{"  /LUNA  ", true},
		{"/menu", true},
		{"/help me please", true},
		{"/Luna show me", true},
		{"", false},
		{"   ", false},
		{"hello /luna", false},
		{"luna", false},
		{"/lunatic", true}, // prefix match is intentional
	}
	for _, tt := range tests {
		if got := IsSlashCommand(tt.content); got != tt.want {
			t.Errorf("IsSlashCommand(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestRoute_SlashCommandOpensMenuWithoutClassifier(t *testing.T) {
	classifier := &fakeClassifier{result: intent.GenerateKundli}
	r, _ := testRouter(t, classifier, &fakeUsers{})

	resp := r.Route(context.Background(), inboundMsg("/luna"))
	if resp.Content != "main menu" {
		t.Errorf("slash command should open the menu, got %q", resp.Content)
	}
	if resp.Metadata["predicted_intent"] != intent.MainMenu {
		t.Errorf("predicted_intent = %v", resp.Metadata["predicted_intent"])
	}
	if classifier.calls != 0 {
		t.Error("slash commands must not reach the classifier")
	}
}

func TestRoute_QuickReplyShortCircuitsClassifier(t *testing.T) {
	classifier := &fakeClassifier{result: intent.Unknown}
	r, _ := testRouter(t, classifier, &fakeUsers{})

	msg := inboundMsg("")
	msg.SelectedReply = &protocol.SelectedQuickReply{ID: "profile_qna__astro_consultation"}
	resp := r.Route(context.Background(), msg)

	if resp.Content != "qna flow" {
		t.Errorf("quick reply should bind to its workflow, got %q", resp.Content)
	}
	if classifier.calls != 0 {
		t.Error("valid quick replies must not reach the classifier")
	}
}

func TestRoute_MalformedQuickReplyFallsThrough(t *testing.T) {
	classifier := &fakeClassifier{result: intent.GenerateKundli}
	r, _ := testRouter(t, classifier, &fakeUsers{})

	msg := inboundMsg("I want my kundli")
	msg.SelectedReply = &protocol.SelectedQuickReply{ID: "no-separator"}
	resp := r.Route(context.Background(), msg)

	if classifier.calls != 1 {
		t.Error("malformed quick reply should fall through to classification")
	}
	if resp.Content != "kundli flow" {
		t.Errorf("got %q", resp.Content)
	}
}

func TestRoute_ClassifierFailureFallsBackToUnknown(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("api down")}
	r, _ := testRouter(t, classifier, &fakeUsers{})

	resp := r.Route(context.Background(), inboundMsg("what is my future"))
	if resp.Content != "fallback" {
		t.Errorf("classifier failure should route to fallback, got %q", resp.Content)
	}
	if resp.Metadata["predicted_intent"] != intent.Unknown {
		t.Errorf("predicted_intent = %v", resp.Metadata["predicted_intent"])
	}
}

func TestRoute_InvalidClassifierIntentFallsBackToUnknown(t *testing.T) {
	classifier := &fakeClassifier{result: "made_up_intent"}
	r, _ := testRouter(t, classifier, &fakeUsers{})

	resp := r.Route(context.Background(), inboundMsg("hmm"))
	if resp.Content != "fallback" {
		t.Errorf("invalid intent should route to fallback, got %q", resp.Content)
	}
}

func TestRoute_UnknownDoesNotOverwriteActiveIntent(t *testing.T) {
	classifier := &fakeClassifier{result: intent.GenerateKundli}
	r, sessions := testRouter(t, classifier, &fakeUsers{})

	// Turn 1 starts the kundli flow; the stub repeats, so the intent
	// stays active.
	r.Route(context.Background(), inboundMsg("kundli please"))

	// Turn 2 is an ambiguous follow-up the classifier cannot place.
	classifier.result = intent.Unknown
	resp := r.Route(context.Background(), inboundMsg("yes"))

	if resp.Content != "kundli flow" {
		t.Errorf("active intent should keep the turn, got %q", resp.Content)
	}
	if resp.Metadata["predicted_intent"] != intent.GenerateKundli {
		t.Errorf("predicted_intent = %v", resp.Metadata["predicted_intent"])
	}

	sess, _ := sessions.GetOrCreate(context.Background(), "u-telegram-tg-1", "telegram")
	if sess.ActiveIntent != intent.GenerateKundli {
		t.Errorf("active intent overwritten: %q", sess.ActiveIntent)
	}
}

func TestRoute_PersistsUserAndAssistantTurns(t *testing.T) {
	r, sessions := testRouter(t, &fakeClassifier{result: intent.MainMenu}, &fakeUsers{})

	r.Route(context.Background(), inboundMsg("show me the menu"))

	history := sessions.GetRecentHistory(context.Background(), "u-telegram-tg-1", 10, "telegram")
	if len(history) != 2 {
		t.Fatalf("expected user + assistant turns, got %d", len(history))
	}
	if history[0].Role != session.RoleUser || history[0].Content != "show me the menu" {
		t.Errorf("user turn wrong: %+v", history[0])
	}
	if history[1].Role != session.RoleAssistant || history[1].Content != "main menu" {
		t.Errorf("assistant turn wrong: %+v", history[1])
	}
}

func TestRoute_SavesBothTurnsToStore(t *testing.T) {
	conversations := &recordingConversations{}
	sessions := session.NewManager(session.DefaultConfig(), nil, nil)
	r := New(sessions, &fakeClassifier{result: intent.MainMenu}, testEngine(t), &fakeUsers{}, conversations)

	r.Route(context.Background(), inboundMsg("show me the menu"))

	if len(conversations.saved) != 2 {
		t.Fatalf("expected inbound + outbound saved, got %d", len(conversations.saved))
	}
	in, out := conversations.saved[0], conversations.saved[1]
	if in.MessageType != store.IncomingText || in.Content != "show me the menu" {
		t.Errorf("inbound save wrong: %+v", in)
	}
	if out.MessageType != store.OutgoingText || out.Content != "main menu" {
		t.Errorf("outbound save wrong: %+v", out)
	}
	for _, c := range conversations.saved {
		if c.UserID != "u-telegram-tg-1" || c.Channel != store.ChannelTelegram {
			t.Errorf("addressing wrong: %+v", c)
		}
	}
}

func TestRoute_StoreFailureDoesNotAbortTurn(t *testing.T) {
	conversations := &recordingConversations{err: errors.New("disk full")}
	sessions := session.NewManager(session.DefaultConfig(), nil, nil)
	r := New(sessions, &fakeClassifier{result: intent.MainMenu}, testEngine(t), &fakeUsers{}, conversations)

	resp := r.Route(context.Background(), inboundMsg("show me the menu"))
	if resp == nil || resp.Content != "main menu" {
		t.Fatalf("persistence failure must not break the turn, got %+v", resp)
	}
}

// waitingStep parks its workflow until a payment event arrives.
type waitingStep struct{}

func (s *waitingStep) ID() workflow.StepID { return workflow.StepKundliGeneration }

func (s *waitingStep) Execute(_ context.Context, msg *protocol.RequestMessage, _ *session.Session, _ workflow.ID, _ map[string]any) (workflow.Result, error) {
	return workflow.Result{
		Response: msg.CreateTextResponse("awaiting payment"),
		Action:   workflow.ActionWait,
		WaitFor:  &workflow.WaitEvent{EventType: "payment_success"},
	}, nil
}

func (s *waitingStep) OnEvent(_ context.Context, _ string, _ map[string]any, msg *protocol.RequestMessage, _ workflow.ID, _ map[string]any) (*workflow.Result, error) {
	return &workflow.Result{
		Response: msg.CreateTextResponse("payment received"),
		Action:   workflow.ActionComplete,
	}, nil
}

func TestHandleEvent_SavesResumedResponse(t *testing.T) {
	reg := workflow.NewRegistry()
	reg.RegisterStep(&waitingStep{})
	reg.RegisterWorkflow(workflow.Definition{
		ID:          workflow.GenerateKundli,
		Steps:       []workflow.StepID{workflow.StepKundliGeneration},
		InitialStep: workflow.StepKundliGeneration,
	})
	engine, err := workflow.NewEngine(reg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	conversations := &recordingConversations{}
	sessions := session.NewManager(session.DefaultConfig(), nil, nil)
	r := New(sessions, &fakeClassifier{result: intent.GenerateKundli}, engine, &fakeUsers{}, conversations)

	r.Route(context.Background(), inboundMsg("kundli please"))
	saved := len(conversations.saved)

	resp := r.HandleEvent(context.Background(), "payment_success", nil, inboundMsg(""))
	if resp == nil || resp.Content != "payment received" {
		t.Fatalf("event should resume the workflow, got %+v", resp)
	}
	if len(conversations.saved) != saved+1 {
		t.Fatalf("resumed response should be saved once, got %d extra", len(conversations.saved)-saved)
	}
	last := conversations.saved[len(conversations.saved)-1]
	if last.MessageType != store.OutgoingText || last.Content != "payment received" {
		t.Errorf("resumed save wrong: %+v", last)
	}
}

func TestRoute_UserResolutionFailureDegrades(t *testing.T) {
	r, _ := testRouter(t, &fakeClassifier{}, &fakeUsers{err: errors.New("db down")})

	resp := r.Route(context.Background(), inboundMsg("hello"))
	if resp == nil || resp.Content != protocol.DefaultErrorText {
		t.Fatalf("resolution failure should yield the canonical error, got %+v", resp)
	}
}

func TestHandleEvent_NoWaitingWorkflowReturnsNil(t *testing.T) {
	r, _ := testRouter(t, &fakeClassifier{}, &fakeUsers{})
	if resp := r.HandleEvent(context.Background(), "payment_success", nil, inboundMsg("")); resp != nil {
		t.Errorf("no waiting workflow should yield nil, got %+v", resp)
	}
}
