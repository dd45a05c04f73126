package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
	"github.com/lunalabs/luna/pkg/session"
)

const waitingText = "I'm still processing your previous request. Please wait a moment."
const waitingPaymentText = "I'm waiting for your payment to be processed. Please complete the payment and I'll continue with your request."
const engineErrorText = "I'm sorry, something went wrong. Please try again."

// Engine executes workflows against their registered steps. It owns no
// state of its own: all progress lives in workflow contexts inside the
// session, so the engine is safe to share across every inbound event.
type Engine struct {
	registry *Registry
}

// NewEngine validates the registry and returns an engine. An invalid
// registry (missing step, bad initial step) fails here, at startup.
func NewEngine(registry *Registry) (*Engine, error) {
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("workflow registry: %w", err)
	}
	return &Engine{registry: registry}, nil
}

// Execute runs one turn of the given workflow. A new workflow starts at
// its initial step; an in-progress one resumes at whatever step its
// context records. Every path returns a response; step errors degrade to
// the canonical engine error reply.
func (e *Engine) Execute(ctx context.Context, workflowID ID, msg *protocol.RequestMessage, sess *session.Session) *protocol.ResponseMessage {
	def, ok := e.registry.Workflow(workflowID)
	if !ok {
		logger.ErrorCF("workflow", "Workflow not found", map[string]any{"workflow": string(workflowID)})
		return msg.CreateErrorResponse(engineErrorText).AddMetadata("error", "workflow not configured")
	}

	wctx := GetContext(sess, workflowID)
	if wctx == nil {
		wctx = CreateContext(sess, workflowID, def.InitialStep, nil)
		sess.SetActiveIntent(string(workflowID))
		logger.InfoCF("workflow", "Started workflow", map[string]any{
			"workflow": string(workflowID), "user_id": sess.UserID,
		})
	}

	if wctx.IsWaiting {
		logger.InfoCF("workflow", "Workflow waiting, deferring message", map[string]any{
			"workflow": string(workflowID),
		})
		return e.waitingResponse(msg, wctx)
	}

	return e.executeStep(ctx, def, wctx, msg, sess)
}

// HandleEvent resumes a waiting workflow on an external event. Returns nil
// when no workflow in the session was waiting for this event type.
func (e *Engine) HandleEvent(ctx context.Context, eventType string, data map[string]any, msg *protocol.RequestMessage, sess *session.Session) *protocol.ResponseMessage {
	for _, wctx := range ActiveContexts(sess) {
		if !wctx.IsWaiting || wctx.WaitEvent == nil || wctx.WaitEvent.EventType != eventType {
			continue
		}

		step, ok := e.registry.Step(wctx.CurrentStep)
		if !ok {
			logger.ErrorCF("workflow", "Waiting step missing from registry", map[string]any{
				"step": string(wctx.CurrentStep),
			})
			continue
		}
		handler, ok := step.(EventHandler)
		if !ok {
			continue
		}

		logger.InfoCF("workflow", "Resuming workflow on event", map[string]any{
			"workflow": string(wctx.WorkflowID), "event": eventType,
		})
		result, err := handler.OnEvent(ctx, eventType, data, msg, wctx.WorkflowID, wctx.Data)
		if err != nil {
			logger.ErrorCF("workflow", "Event handler failed", map[string]any{
				"workflow": string(wctx.WorkflowID), "event": eventType, "error": err.Error(),
			})
			continue
		}
		if result == nil {
			continue
		}

		wctx.SetWaiting(false, nil)
		def, _ := e.registry.Workflow(wctx.WorkflowID)
		return e.applyResult(ctx, def, wctx, *result, msg, sess, 0)
	}
	return nil
}

func (e *Engine) executeStep(ctx context.Context, def Definition, wctx *Context, msg *protocol.RequestMessage, sess *session.Session) *protocol.ResponseMessage {
	return e.executeStepDepth(ctx, def, wctx, msg, sess, 0)
}

func (e *Engine) executeStepDepth(ctx context.Context, def Definition, wctx *Context, msg *protocol.RequestMessage, sess *session.Session, depth int) *protocol.ResponseMessage {
	// AdvanceNow chains are bounded by the workflow length; anything
	// deeper is a step wiring bug, not a legitimate flow.
	if depth > len(def.Steps)+1 {
		logger.ErrorCF("workflow", "Advance chain exceeded workflow length", map[string]any{
			"workflow": string(def.ID),
		})
		return msg.CreateErrorResponse(engineErrorText)
	}

	step, ok := e.registry.Step(wctx.CurrentStep)
	if !ok {
		logger.ErrorCF("workflow", "Step not found", map[string]any{"step": string(wctx.CurrentStep)})
		return msg.CreateErrorResponse(engineErrorText).AddMetadata("error", "workflow step not found")
	}

	logger.InfoCF("workflow", "Executing step", map[string]any{
		"workflow": string(def.ID), "step": string(wctx.CurrentStep),
	})
	result, err := step.Execute(ctx, msg, sess, def.ID, wctx.Data)
	if err != nil {
		logger.ErrorCF("workflow", "Step failed", map[string]any{
			"workflow": string(def.ID), "step": string(wctx.CurrentStep), "error": err.Error(),
		})
		return msg.CreateErrorResponse(engineErrorText)
	}

	return e.applyResult(ctx, def, wctx, result, msg, sess, depth)
}

func (e *Engine) applyResult(ctx context.Context, def Definition, wctx *Context, result Result, msg *protocol.RequestMessage, sess *session.Session, depth int) *protocol.ResponseMessage {
	if result.ContextUpdates != nil {
		wctx.Merge(result.ContextUpdates)
	}

	switch result.Action {
	case ActionContinue:
		next := result.NextStep
		if next == "" {
			next, _ = def.NextStep(wctx.CurrentStep)
		}
		if next != "" {
			wctx.Advance(next)
			logger.InfoCF("workflow", "Advanced to step", map[string]any{
				"workflow": string(def.ID), "step": string(next),
			})
		} else {
			e.complete(sess, wctx, false)
		}

	case ActionAdvanceNow:
		next := result.NextStep
		if next == "" {
			next, _ = def.NextStep(wctx.CurrentStep)
		}
		if next != "" {
			wctx.Advance(next)
			return e.executeStepDepth(ctx, def, wctx, msg, sess, depth+1)
		}
		e.complete(sess, wctx, false)

	case ActionRepeat:
		// Stay on the current step for the next turn.

	case ActionJump:
		if result.NextWorkflow != "" && result.NextWorkflow != wctx.WorkflowID {
			return e.jumpWorkflow(sess, wctx, result)
		}
		if result.NextStep != "" {
			wctx.Advance(result.NextStep)
			logger.InfoCF("workflow", "Jumped to step", map[string]any{
				"workflow": string(def.ID), "step": string(result.NextStep),
			})
		}

	case ActionWait:
		wctx.SetWaiting(true, result.WaitFor)
		logger.InfoCF("workflow", "Workflow waiting for event", map[string]any{
			"workflow": string(def.ID),
			"event":    waitEventType(result.WaitFor),
		})

	case ActionComplete:
		e.complete(sess, wctx, true)
	}

	return result.Response
}

// jumpWorkflow transitions to another workflow, carrying handoff data. The
// new workflow's first step runs on the next user turn, keeping the engine
// message-agnostic across transitions.
func (e *Engine) jumpWorkflow(sess *session.Session, wctx *Context, result Result) *protocol.ResponseMessage {
	handoff := wctx.Data[HandoffKey]
	ClearContext(sess, wctx.WorkflowID)

	target, ok := e.registry.Workflow(result.NextWorkflow)
	if !ok {
		logger.ErrorCF("workflow", "Jump target not found", map[string]any{
			"workflow": string(result.NextWorkflow),
		})
		return result.Response
	}

	initialStep := result.NextStep
	if initialStep == "" {
		initialStep = target.InitialStep
	}
	var initialData map[string]any
	if handoff != nil {
		initialData = map[string]any{HandoffKey: handoff}
	}
	CreateContext(sess, result.NextWorkflow, initialStep, initialData)
	sess.SetActiveIntent(string(result.NextWorkflow))
	logger.InfoCF("workflow", "Transitioned workflow", map[string]any{
		"from": string(wctx.WorkflowID), "to": string(result.NextWorkflow),
	})
	return result.Response
}

// complete clears the workflow context; clearIntent also drops the active
// intent so follow-up classification is not biased by a finished task.
func (e *Engine) complete(sess *session.Session, wctx *Context, clearIntent bool) {
	logger.InfoCF("workflow", "Completed workflow", map[string]any{
		"workflow": string(wctx.WorkflowID),
	})
	if clearIntent {
		sess.SetActiveIntent("")
	}
	ClearContext(sess, wctx.WorkflowID)
}

func (e *Engine) waitingResponse(msg *protocol.RequestMessage, wctx *Context) *protocol.ResponseMessage {
	text := waitingText
	if strings.Contains(strings.ToLower(waitEventType(wctx.WaitEvent)), "payment") {
		text = waitingPaymentText
	}
	return msg.CreateTextResponse(text).AddMetadata("workflow_waiting", true)
}

func waitEventType(ev *WaitEvent) string {
	if ev == nil {
		return ""
	}
	return ev.EventType
}
