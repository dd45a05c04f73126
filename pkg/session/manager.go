package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/store"
)

// Config bounds the per-session history cache.
type Config struct {
	MaxTurnsInCache int // turn-count cap
	MaxCacheSize    int // total character footprint cap across turn contents
}

// DefaultConfig mirrors the production caps.
func DefaultConfig() Config {
	return Config{MaxTurnsInCache: 20, MaxCacheSize: 10000}
}

type cacheKey struct {
	userID  string
	channel string // empty for the user's global namespace
}

// Manager owns the session cache. Construct one per process and inject it;
// it holds no package-level state. Safe for concurrent use across distinct
// keys; concurrent updates to the same key rely on the event-per-turn model
// plus the duplicate-turn guard, not on per-key serialization.
type Manager struct {
	mu       sync.Mutex
	sessions map[cacheKey]*Session

	cfg           Config
	conversations store.ConversationStore
	profiles      store.ProfileStore
}

// NewManager builds a Manager over the given collaborator stores. Either
// store may be nil, in which case the corresponding hydration step is
// skipped (used by tests and the CLI channel).
func NewManager(cfg Config, conversations store.ConversationStore, profiles store.ProfileStore) *Manager {
	if cfg.MaxTurnsInCache <= 0 {
		cfg.MaxTurnsInCache = DefaultConfig().MaxTurnsInCache
	}
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = DefaultConfig().MaxCacheSize
	}
	return &Manager{
		sessions:      make(map[cacheKey]*Session),
		cfg:           cfg,
		conversations: conversations,
		profiles:      profiles,
	}
}

// GetOrCreate returns the live session for (userID, channelType), creating
// and hydrating it on first access. Hydration is best-effort: a failing
// profile lookup or history fetch still yields a usable (possibly empty)
// session, with the failure recorded in the returned Hydration.
func (m *Manager) GetOrCreate(ctx context.Context, userID, channelType string) (*Session, Hydration) {
	key := cacheKey{userID: userID, channel: channelType}

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, Hydration{FromCache: true}
	}
	m.mu.Unlock()

	s, hyd := m.hydrate(ctx, userID, channelType)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another event may have hydrated the same key in the meantime;
	// keep the first one so callers share a single live session.
	if existing, ok := m.sessions[key]; ok {
		return existing, Hydration{FromCache: true}
	}
	m.sessions[key] = s
	return s, hyd
}

func (m *Manager) hydrate(ctx context.Context, userID, channelType string) (*Session, Hydration) {
	s := &Session{
		UserID:          userID,
		SessionMetadata: map[string]any{},
	}
	var hyd Hydration

	if m.profiles != nil {
		profile, err := m.profiles.DefaultProfileForUser(ctx, userID)
		switch {
		case err != nil:
			hyd.ProfileErr = err
			logger.WarnCF("session", "Default profile lookup failed", map[string]any{
				"user_id": userID, "error": err.Error(),
			})
		case profile != nil:
			s.CurrentProfileID = profile.ProfileID
		}
	}

	if channelType != "" && m.conversations != nil {
		history, err := m.conversations.ConversationHistory(
			ctx, userID, store.ChannelType(channelType), m.cfg.MaxTurnsInCache)
		if err != nil {
			hyd.HistoryErr = err
			logger.ErrorCF("session", "History hydration failed", map[string]any{
				"user_id": userID, "channel": channelType, "error": err.Error(),
			})
		} else {
			for _, msg := range history {
				role := RoleAssistant
				if msg.MessageType.IsIncoming() {
					role = RoleUser
				}
				s.ConversationHistory = append(s.ConversationHistory, MessageTurn{
					Role:      role,
					Content:   msg.Content,
					Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
					Metadata:  msg.AdditionalInfo,
				})
			}
			// Storage returns most-recent-first and makes no ordering
			// promise beyond that; re-sort oldest to newest.
			sort.SliceStable(s.ConversationHistory, func(i, j int) bool {
				return s.ConversationHistory[i].Time().Before(s.ConversationHistory[j].Time())
			})
			hyd.TurnsLoaded = len(s.ConversationHistory)
		}
	}

	m.trim(s)
	return s, hyd
}

// UpdateOption configures an Update call.
type UpdateOption func(*updateParams)

type updateParams struct {
	activeIntent    *string
	metadataUpdates map[string]any
}

// WithActiveIntent sets the session's active intent as part of the update.
func WithActiveIntent(intent string) UpdateOption {
	return func(p *updateParams) { p.activeIntent = &intent }
}

// WithMetadata merges the given entries into session metadata.
func WithMetadata(md map[string]any) UpdateOption {
	return func(p *updateParams) { p.metadataUpdates = md }
}

// Update appends a turn to the session (creating it if needed), stamping a
// timestamp when absent. A turn whose role and content equal the trailing
// turn is dropped: webhook re-deliveries arrive as exact duplicates and the
// cache must absorb them without growing. The trim policy runs afterwards.
func (m *Manager) Update(ctx context.Context, userID, channelType string, turn MessageTurn, opts ...UpdateOption) {
	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}

	s, _ := m.GetOrCreate(ctx, userID, channelType)

	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.Timestamp == "" {
		turn.Timestamp = NowTimestamp()
	}

	last := len(s.ConversationHistory) - 1
	if last < 0 ||
		s.ConversationHistory[last].Content != turn.Content ||
		s.ConversationHistory[last].Role != turn.Role {
		s.ConversationHistory = append(s.ConversationHistory, turn)
	}

	if p.activeIntent != nil {
		s.ActiveIntent = *p.activeIntent
	}
	for k, v := range p.metadataUpdates {
		s.SessionMetadata[k] = v
	}

	m.trim(s)
}

// trim enforces the cache caps: while the history exceeds the turn-count
// cap OR the character cap, the oldest turn is evicted. Both conditions are
// re-checked every iteration and eviction is strictly age-based, so a
// single oversized turn is evicted right back out rather than retained
// past the cap.
func (m *Manager) trim(s *Session) {
	history := s.ConversationHistory
	total := 0
	for _, t := range history {
		total += len(t.Content)
	}
	for len(history) > 0 &&
		(len(history) > m.cfg.MaxTurnsInCache || total > m.cfg.MaxCacheSize) {
		total -= len(history[0].Content)
		history = history[1:]
	}
	s.ConversationHistory = history
}

// Clear removes the session for one channel, or for every channel the user
// has when channelType is empty. Removal is immediate, not a tombstone.
func (m *Manager) Clear(userID, channelType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if channelType != "" {
		delete(m.sessions, cacheKey{userID: userID, channel: channelType})
		return
	}
	for key := range m.sessions {
		if key.userID == userID {
			delete(m.sessions, key)
		}
	}
}

// GetRecentHistory returns the last limit turns (or fewer) without mutating
// session state beyond the implicit get-or-create.
func (m *Manager) GetRecentHistory(ctx context.Context, userID string, limit int, channelType string) []MessageTurn {
	s, _ := m.GetOrCreate(ctx, userID, channelType)

	m.mu.Lock()
	defer m.mu.Unlock()

	history := s.ConversationHistory
	if limit <= 0 || limit >= len(history) {
		out := make([]MessageTurn, len(history))
		copy(out, history)
		return out
	}
	out := make([]MessageTurn, limit)
	copy(out, history[len(history)-limit:])
	return out
}

// SetActiveIntent updates only the session's active intent. It never
// touches conversation history; the router's continuity logic depends on
// intent tracking staying separate from conversational content.
func (m *Manager) SetActiveIntent(ctx context.Context, userID, intent, channelType string) {
	s, _ := m.GetOrCreate(ctx, userID, channelType)

	m.mu.Lock()
	defer m.mu.Unlock()
	s.ActiveIntent = intent
}
