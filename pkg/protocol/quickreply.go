package protocol

import "strings"

// idSeparator joins the parts of a quick-reply id. An id is well formed iff
// it contains at least one separator: "workflow__action" or
// "workflow__action__suffix".
const idSeparator = "__"

// QuickReplyOption is a single option rendered to the user as a button or
// reply keyboard entry. The id is the only cross-turn binding between a
// rendered option and the workflow engine, so it must always be built with
// BuildQuickReply; hand-rolled literal ids are a latent routing bug.
type QuickReplyOption struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
}

// BuildQuickReply constructs an option whose id encodes
// workflow__action[__suffix].
func BuildQuickReply(workflowID, action, text string, suffix ...string) QuickReplyOption {
	parts := []string{workflowID, action}
	if len(suffix) > 0 && suffix[0] != "" {
		parts = append(parts, suffix[0])
	}
	return QuickReplyOption{ID: strings.Join(parts, idSeparator), Text: text}
}

// SelectedQuickReply captures a user's selection of a quick-reply option.
// Ids may be malformed (stale buttons from a previous deploy, forged
// callbacks); extraction degrades to empty strings rather than failing.
type SelectedQuickReply struct {
	ID              string         `json:"id"`
	Text            string         `json:"text,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	SourceMessageID string         `json:"source_message_id,omitempty"`
}

func (s *SelectedQuickReply) parts() []string {
	if s == nil || s.ID == "" {
		return nil
	}
	return strings.Split(s.ID, idSeparator)
}

// WorkflowID returns the workflow component of the id, or "" if absent.
func (s *SelectedQuickReply) WorkflowID() string {
	if p := s.parts(); len(p) > 0 {
		return p[0]
	}
	return ""
}

// Action returns the action component of the id, or "" if absent.
func (s *SelectedQuickReply) Action() string {
	if p := s.parts(); len(p) > 1 {
		return p[1]
	}
	return ""
}

// Suffix returns the optional third component of the id, or "" if absent.
func (s *SelectedQuickReply) Suffix() string {
	if p := s.parts(); len(p) > 2 {
		return p[2]
	}
	return ""
}

// HasValidFormat reports whether the id follows the
// workflow__action[__suffix] scheme.
func (s *SelectedQuickReply) HasValidFormat() bool {
	return s != nil && strings.Contains(s.ID, idSeparator) && len(s.parts()) >= 2
}
