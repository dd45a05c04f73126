package steps

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

// ---- shared fakes ----

type fakeProfileStore struct {
	profiles []store.Profile
	created  int
}

func (f *fakeProfileStore) DefaultProfileForUser(_ context.Context, userID string) (*store.Profile, error) {
	for i := range f.profiles {
		if f.profiles[i].UserID == userID && f.profiles[i].IsDefault {
			p := f.profiles[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfileStore) ProfilesForUser(_ context.Context, userID string) ([]store.Profile, error) {
	var out []store.Profile
	for _, p := range f.profiles {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProfileStore) ProfileByID(_ context.Context, profileID string) (*store.Profile, error) {
	for i := range f.profiles {
		if f.profiles[i].ProfileID == profileID {
			p := f.profiles[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfileStore) CreateProfile(_ context.Context, p *store.Profile) error {
	f.created++
	p.ProfileID = fmt.Sprintf("p-%d", f.created)
	p.IsDefault = len(f.profiles) == 0
	f.profiles = append(f.profiles, *p)
	return nil
}

type fakeLocationResolver struct {
	locations []store.Location
}

func (f *fakeLocationResolver) LocationByID(_ context.Context, id int64) (*store.Location, error) {
	for i := range f.locations {
		if f.locations[i].ID == id {
			l := f.locations[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (f *fakeLocationResolver) SearchLocations(_ context.Context, name string, limit int) ([]store.Location, error) {
	var out []store.Location
	for _, l := range f.locations {
		if strings.EqualFold(l.Name, name) {
			out = append(out, l)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scriptedExtractor plays back canned interpretations in order.
type scriptedExtractor struct {
	extractions   []ExtractionResult
	extractCalls  int
	locationID    int64
	locationReply string
	confirmations []ConfirmationResult
	confirmCalls  int
}

func (s *scriptedExtractor) ExtractBasicDetails(_ context.Context, _ string, _ BasicDetails, _ []session.MessageTurn) (ExtractionResult, error) {
	i := s.extractCalls
	if i >= len(s.extractions) {
		i = len(s.extractions) - 1
	}
	s.extractCalls++
	return s.extractions[i], nil
}

func (s *scriptedExtractor) ResolveLocationChoice(_ context.Context, _ string, _ []store.Location) (int64, string, error) {
	return s.locationID, s.locationReply, nil
}

func (s *scriptedExtractor) InterpretConfirmation(_ context.Context, _ string, _ string) (ConfirmationResult, error) {
	i := s.confirmCalls
	if i >= len(s.confirmations) {
		i = len(s.confirmations) - 1
	}
	s.confirmCalls++
	if len(s.confirmations) == 0 {
		return ConfirmationResult{}, nil
	}
	return s.confirmations[i], nil
}

type fakeGenerator struct {
	summary       string
	outcome       KundliOutcome
	offerReply    OfferReply
	generateCalls int
}

func (f *fakeGenerator) SunSignSummary(_ context.Context, _ *store.Profile) (string, error) {
	return f.summary, nil
}

func (f *fakeGenerator) Generate(_ context.Context, _ *store.Profile) (KundliOutcome, error) {
	f.generateCalls++
	return f.outcome, nil
}

func (f *fakeGenerator) ClassifyOfferReply(_ context.Context, _ string) (OfferReply, error) {
	return f.offerReply, nil
}

type fakeResponder struct {
	answer QnAAnswer
	asked  []string
}

func (f *fakeResponder) Answer(_ context.Context, _ *store.Profile, question string, _ []session.MessageTurn) (QnAAnswer, error) {
	f.asked = append(f.asked, question)
	return f.answer, nil
}

// ---- helpers ----

func stepMsg(content string) *protocol.RequestMessage {
	return &protocol.RequestMessage{
		UserID:        "u-1",
		ChannelType:   "telegram",
		ChannelUserID: "tg-1",
		ContentType:   protocol.ContentText,
		Content:       content,
		Timestamp:     time.Now().UTC(),
	}
}

func stepMsgWithReply(id string) *protocol.RequestMessage {
	m := stepMsg("")
	m.SelectedReply = &protocol.SelectedQuickReply{ID: id}
	return m
}

func stepSession(turns int) *session.Session {
	s := &session.Session{UserID: "u-1", SessionMetadata: map[string]any{}}
	for i := 0; i < turns; i++ {
		s.ConversationHistory = append(s.ConversationHistory, session.MessageTurn{
			Role: session.RoleUser, Content: fmt.Sprintf("msg %d", i), Timestamp: session.NowTimestamp(),
		})
	}
	return s
}

// applyUpdates merges step context updates the way the engine would.
func applyUpdates(wctx map[string]any, result workflow.Result) map[string]any {
	for k, v := range result.ContextUpdates {
		wctx[k] = v
	}
	return wctx
}

// ---- menu and fallback ----

func TestMainMenu_NewVersusReturningUser(t *testing.T) {
	step := NewMainMenuStep()

	res, err := step.Execute(context.Background(), stepMsg("/luna"), stepSession(1), workflow.MainMenu, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionComplete {
		t.Errorf("menu should complete in one turn, got %s", res.Action)
	}
	if res.Response.Metadata["is_new_user"] != true {
		t.Error("single-turn history should read as a new user")
	}
	if len(res.Response.ReplyOptions) != 2 {
		t.Fatalf("expected 2 menu options, got %d", len(res.Response.ReplyOptions))
	}
	if res.Response.ReplyOptions[0].ID != "generate_kundli__generate_kundli" {
		t.Errorf("unexpected option id %q", res.Response.ReplyOptions[0].ID)
	}

	res, _ = step.Execute(context.Background(), stepMsg("/menu"), stepSession(5), workflow.MainMenu, map[string]any{})
	if res.Response.Metadata["is_new_user"] != false {
		t.Error("longer history should read as a returning user")
	}
	if !strings.Contains(res.Response.Content, "Welcome back") {
		t.Errorf("returning user should get the welcome-back menu, got %q", res.Response.Content)
	}
}

func TestUnknownFallback_WelcomesFirstContact(t *testing.T) {
	step := NewUnknownFallbackStep()

	res, err := step.Execute(context.Background(), stepMsg("hi"), stepSession(1), workflow.Unknown, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Response.Content, "Namaste") {
		t.Errorf("first contact should get the welcome, got %q", res.Response.Content)
	}

	res, _ = step.Execute(context.Background(), stepMsg("qwerty"), stepSession(4), workflow.Unknown, map[string]any{})
	if !strings.Contains(res.Response.Content, "not sure what you're asking") {
		t.Errorf("later turns should get the fallback, got %q", res.Response.Content)
	}
	if res.Action != workflow.ActionComplete {
		t.Errorf("fallback should complete, got %s", res.Action)
	}
}

// ---- profile Q&A ----

func TestProfileQnA_WelcomeThenAnswerLoop(t *testing.T) {
	profiles := &fakeProfileStore{profiles: []store.Profile{
		{ProfileID: "p-1", UserID: "u-1", Name: "asha", IsDefault: true},
	}}
	responder := &fakeResponder{answer: QnAAnswer{Text: "Venus favors you this month.", Category: "relationships"}}
	step := NewProfileQnAStep(profiles, responder)

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	wctx := map[string]any{}

	res, err := step.Execute(context.Background(), stepMsg("tell me about love"), sess, workflow.ProfileQnA, wctx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionRepeat {
		t.Fatalf("welcome turn should repeat, got %s", res.Action)
	}
	if !strings.Contains(res.Response.Content, "Asha") {
		t.Errorf("welcome should name the profile, got %q", res.Response.Content)
	}
	wctx = applyUpdates(wctx, res)

	res, err = step.Execute(context.Background(), stepMsg("what about my career?"), sess, workflow.ProfileQnA, wctx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Response.Content != "Venus favors you this month." {
		t.Errorf("answer should come from the responder, got %q", res.Response.Content)
	}
	if res.Response.Metadata["query_category"] != "relationships" {
		t.Error("answer category should be surfaced in metadata")
	}
	if len(responder.asked) != 1 || responder.asked[0] != "what about my career?" {
		t.Errorf("responder should get the raw question, got %v", responder.asked)
	}
}

func TestProfileQnA_SwitchProfileJumpsToResolution(t *testing.T) {
	profiles := &fakeProfileStore{profiles: []store.Profile{
		{ProfileID: "p-1", UserID: "u-1", Name: "asha"},
	}}
	step := NewProfileQnAStep(profiles, &fakeResponder{})

	sess := stepSession(2)
	sess.CurrentProfileID = "p-1"
	res, err := step.Execute(context.Background(),
		stepMsgWithReply("profile_qna__change_profile"), sess, workflow.ProfileQnA, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionJump || res.NextStep != workflow.StepProfileResolution {
		t.Errorf("change_profile should jump to resolution, got %+v", res)
	}
	if sess.CurrentProfileID != "" {
		t.Error("switching should clear the current profile")
	}
}

func TestProfileQnA_MissingProfileJumpsToResolution(t *testing.T) {
	step := NewProfileQnAStep(&fakeProfileStore{}, &fakeResponder{})
	res, err := step.Execute(context.Background(), stepMsg("hello"), stepSession(1), workflow.ProfileQnA, map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Action != workflow.ActionJump || res.NextStep != workflow.StepProfileResolution {
		t.Errorf("no profile should jump to resolution, got %+v", res)
	}
}

// ---- registry wiring ----

func TestRegister_ValidatesCleanly(t *testing.T) {
	reg := workflow.NewRegistry()
	Register(reg, Config{
		Profiles:  &fakeProfileStore{},
		Locations: &fakeLocationResolver{},
		Extractor: &scriptedExtractor{extractions: []ExtractionResult{{}}},
		Generator: &fakeGenerator{},
		Responder: &fakeResponder{},
	})
	if err := reg.Validate(); err != nil {
		t.Fatalf("registered workflows should validate: %v", err)
	}
	if got := len(reg.Workflows()); got != 4 {
		t.Errorf("expected 4 workflows, got %d", got)
	}
}
