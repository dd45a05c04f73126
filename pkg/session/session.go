// Package session maintains bounded per-(user, channel) conversational
// state. The cache is volatile by design: sessions are hydrated once from
// the conversation store on first access and rebuilt after a restart. It is
// a rehydratable cache, not a system of record.
package session

import (
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageTurn is a single message in a session's conversation history.
// Timestamp is an RFC 3339 string, matching the persisted representation.
type MessageTurn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Time parses the turn's timestamp; the zero time when unparseable.
func (t MessageTurn) Time() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, t.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, t.Timestamp)
	}
	if err != nil {
		return time.Time{}
	}
	return ts
}

// NowTimestamp returns the current UTC time in turn-timestamp format.
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Session is the conversational state for one (user, channel) pair.
// ConversationHistory is time-ordered oldest to newest and always within the
// manager's turn-count and character caps.
type Session struct {
	UserID              string
	CurrentProfileID    string
	ConversationHistory []MessageTurn
	ActiveIntent        string
	SessionMetadata     map[string]any
}

// SetActiveIntent records the session's currently believed user goal.
// Metadata-only: it never appends to conversation history.
func (s *Session) SetActiveIntent(intent string) {
	s.ActiveIntent = intent
}

// Hydration reports how a session came to exist. Callers can observe
// degraded hydration directly instead of parsing logs.
type Hydration struct {
	FromCache   bool  // true on a cache hit; the rest is then zero
	TurnsLoaded int   // persisted turns mapped into the session
	ProfileErr  error // default-profile lookup failure, if any
	HistoryErr  error // history fetch failure, if any
}

// Degraded reports whether any best-effort hydration step failed.
func (h Hydration) Degraded() bool {
	return h.ProfileErr != nil || h.HistoryErr != nil
}
