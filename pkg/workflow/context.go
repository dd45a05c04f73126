package workflow

import (
	"time"

	"github.com/lunalabs/luna/pkg/session"
)

// metadataKey is where per-workflow contexts live inside session metadata.
const metadataKey = "workflows"

// Context is the progress record for one in-flight workflow: which step is
// active plus whatever partial-entry data steps have stashed. It lives in
// session metadata, so it shares the session cache's lifetime: a restart
// abandons in-flight workflows.
type Context struct {
	WorkflowID  ID
	CurrentStep StepID
	Data        map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsWaiting   bool
	WaitEvent   *WaitEvent
}

// HandoffKey carries structured data across a cross-workflow jump.
const HandoffKey = "_handoff"

func contexts(sess *session.Session) map[ID]*Context {
	if sess.SessionMetadata == nil {
		sess.SessionMetadata = map[string]any{}
	}
	if m, ok := sess.SessionMetadata[metadataKey].(map[ID]*Context); ok {
		return m
	}
	m := map[ID]*Context{}
	sess.SessionMetadata[metadataKey] = m
	return m
}

// GetContext returns the live context for workflowID, or nil if the
// workflow is not in progress.
func GetContext(sess *session.Session, workflowID ID) *Context {
	return contexts(sess)[workflowID]
}

// CreateContext starts tracking a workflow at its initial step.
func CreateContext(sess *session.Session, workflowID ID, initialStep StepID, initialData map[string]any) *Context {
	if initialData == nil {
		initialData = map[string]any{}
	}
	now := time.Now().UTC()
	c := &Context{
		WorkflowID:  workflowID,
		CurrentStep: initialStep,
		Data:        initialData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	contexts(sess)[workflowID] = c
	return c
}

// Advance moves the context to a step.
func (c *Context) Advance(step StepID) {
	c.CurrentStep = step
	c.UpdatedAt = time.Now().UTC()
}

// Merge applies step context updates.
func (c *Context) Merge(updates map[string]any) {
	for k, v := range updates {
		c.Data[k] = v
	}
	c.UpdatedAt = time.Now().UTC()
}

// SetWaiting parks or unparks the workflow. Clearing the waiting flag also
// clears the wait event.
func (c *Context) SetWaiting(waiting bool, event *WaitEvent) {
	c.IsWaiting = waiting
	if waiting {
		c.WaitEvent = event
	} else {
		c.WaitEvent = nil
	}
	c.UpdatedAt = time.Now().UTC()
}

// ClearContext removes a workflow's context from the session.
func ClearContext(sess *session.Session, workflowID ID) {
	m := contexts(sess)
	delete(m, workflowID)
	if len(m) == 0 {
		delete(sess.SessionMetadata, metadataKey)
	}
}

// ActiveContexts returns all in-flight workflow contexts for the session.
func ActiveContexts(sess *session.Session) []*Context {
	m, ok := sess.SessionMetadata[metadataKey].(map[ID]*Context)
	if !ok {
		return nil
	}
	out := make([]*Context, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}
