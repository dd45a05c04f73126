// Package workflow implements the multi-turn conversational state machine.
// A workflow is a named, ordered (but branchable) sequence of steps; each
// step handles exactly one user turn and either completes the workflow or
// leaves it pending in session metadata for the next turn. There is no
// cross-turn suspension primitive: "waiting for the user" is nothing more
// than the workflow context remaining in the session between turns.
package workflow

import (
	"context"

	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
)

// ID names a workflow. The set is closed: ids arrive from quick-reply
// decoding and classifier output, and anything outside the registry routes
// to the unknown fallback instead of silently falling through.
type ID string

const (
	GenerateKundli ID = "generate_kundli"
	ProfileQnA     ID = "profile_qna"
	MainMenu       ID = "main_menu"
	Unknown        ID = "unknown"
)

// StepID names a workflow step.
type StepID string

const (
	StepProfileResolution StepID = "profile_resolution"
	StepProfileAddition   StepID = "profile_addition"
	StepKundliGeneration  StepID = "kundli_generation"
	StepProfileQnA        StepID = "profile_qna"
	StepMainMenu          StepID = "main_menu"
	StepUnknownFallback   StepID = "unknown_fallback"
)

// Action is what a step asks the engine to do with its result.
type Action string

const (
	// ActionContinue moves to the next step; the next step runs on the
	// next user turn.
	ActionContinue Action = "continue"
	// ActionAdvanceNow moves to the next step and executes it
	// immediately, within the current turn.
	ActionAdvanceNow Action = "advance_now"
	// ActionRepeat keeps the current step active for the next turn.
	ActionRepeat Action = "repeat"
	// ActionJump moves to an explicit step, possibly in a different
	// workflow (with handoff data carried over).
	ActionJump Action = "jump"
	// ActionWait parks the workflow until an external event arrives.
	ActionWait Action = "wait"
	// ActionComplete finishes the workflow and clears its context and
	// the active intent.
	ActionComplete Action = "complete"
)

// WaitEvent describes the external event a waiting workflow resumes on.
type WaitEvent struct {
	EventType string
	Data      map[string]any
}

// Result is what a step execution returns to the engine.
type Result struct {
	Response       *protocol.ResponseMessage
	Action         Action
	NextStep       StepID         // for Jump, or to override linear order on Continue/AdvanceNow
	NextWorkflow   ID             // for Jump across workflows
	WaitFor        *WaitEvent     // for Wait
	ContextUpdates map[string]any // merged into the workflow context
}

// Step is a single-turn unit of workflow logic. Implementations must
// return within the current request/response cycle.
type Step interface {
	ID() StepID
	Execute(ctx context.Context, msg *protocol.RequestMessage, sess *session.Session, workflowID ID, wctx map[string]any) (Result, error)
}

// EventHandler is an opt-in interface for steps that resume waiting
// workflows on external events (payment confirmations, async jobs). The
// message identifies the user the resumed workflow replies to.
type EventHandler interface {
	OnEvent(ctx context.Context, eventType string, data map[string]any, msg *protocol.RequestMessage, workflowID ID, wctx map[string]any) (*Result, error)
}

// Definition describes a workflow's step sequence.
type Definition struct {
	ID          ID
	Name        string
	Description string
	Steps       []StepID
	InitialStep StepID
}

// NextStep returns the step after current in the linear sequence, or false
// at the end (or if current is not in the sequence).
func (d Definition) NextStep(current StepID) (StepID, bool) {
	for i, s := range d.Steps {
		if s == current && i+1 < len(d.Steps) {
			return d.Steps[i+1], true
		}
	}
	return "", false
}
