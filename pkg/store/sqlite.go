package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lunalabs/luna/pkg/logger"
)

// SQLiteStore implements ConversationStore, ProfileStore, LocationResolver
// and UserStore on a single SQLite database. The schema is created on open.
type SQLiteStore struct {
	db *sql.DB
}

var _ ConversationStore = (*SQLiteStore)(nil)
var _ ProfileStore = (*SQLiteStore)(nil)
var _ LocationResolver = (*SQLiteStore)(nil)
var _ UserStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path. Parent
// directories are created. WAL mode keeps readers from blocking the
// gateway loop's writes.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.InfoCF("store", "SQLite store initialized", map[string]any{"path": path})
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			user_id         TEXT PRIMARY KEY,
			channel         TEXT NOT NULL,
			channel_user_id TEXT NOT NULL,
			created_at      DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_channel_identity
			ON users(channel, channel_user_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         TEXT NOT NULL,
			channel         TEXT NOT NULL,
			message_type    TEXT NOT NULL,
			content         TEXT NOT NULL,
			additional_info TEXT NOT NULL DEFAULT '{}',
			created_at      DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_channel_time
			ON conversations(user_id, channel, created_at DESC);

		CREATE TABLE IF NOT EXISTS profiles (
			profile_id        TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			name              TEXT NOT NULL,
			gender            TEXT NOT NULL DEFAULT '',
			relationship      TEXT NOT NULL DEFAULT '',
			birth_datetime    DATETIME,
			birth_place       TEXT NOT NULL DEFAULT '',
			birth_location_id INTEGER NOT NULL DEFAULT 0,
			is_default        INTEGER NOT NULL DEFAULT 0,
			created_at        DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_user ON profiles(user_id);

		CREATE TABLE IF NOT EXISTS locations (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			name     TEXT NOT NULL,
			region   TEXT NOT NULL DEFAULT '',
			country  TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			lat      REAL NOT NULL DEFAULT 0,
			lng      REAL NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_locations_name ON locations(name COLLATE NOCASE);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessage appends one message to the conversation log.
func (s *SQLiteStore) SaveMessage(ctx context.Context, userID string, channel ChannelType, mt MessageType, content string, additionalInfo map[string]any) (*Conversation, error) {
	if additionalInfo == nil {
		additionalInfo = map[string]any{}
	}
	info, err := json.Marshal(additionalInfo)
	if err != nil {
		return nil, fmt.Errorf("encoding additional info: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, channel, message_type, content, additional_info, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, string(channel), string(mt), content, string(info), now)
	if err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading insert id: %w", err)
	}

	return &Conversation{
		ID:             id,
		UserID:         userID,
		Channel:        channel,
		MessageType:    mt,
		Content:        content,
		AdditionalInfo: additionalInfo,
		CreatedAt:      now,
	}, nil
}

// ConversationHistory returns up to limit messages, most recent first.
func (s *SQLiteStore) ConversationHistory(ctx context.Context, userID string, channel ChannelType, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, channel, message_type, content, additional_info, created_at
		 FROM conversations
		 WHERE user_id = ? AND channel = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, string(channel), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var channelStr, mtStr, infoStr string
		if err := rows.Scan(&c.ID, &c.UserID, &channelStr, &mtStr, &c.Content, &infoStr, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		c.Channel = ChannelType(channelStr)
		c.MessageType = MessageType(mtStr)
		if err := json.Unmarshal([]byte(infoStr), &c.AdditionalInfo); err != nil {
			// A corrupt blob should not sink the whole hydration.
			c.AdditionalInfo = map[string]any{}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CleanupOlderThan removes messages past their retention age.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up conversations: %w", err)
	}
	return res.RowsAffected()
}

// DefaultProfileForUser returns the user's default profile; falls back to
// the oldest profile when none is flagged default; nil when the user has no
// profiles at all.
func (s *SQLiteStore) DefaultProfileForUser(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT profile_id, user_id, name, gender, relationship, birth_datetime,
		        birth_place, birth_location_id, is_default, created_at
		 FROM profiles
		 WHERE user_id = ?
		 ORDER BY is_default DESC, created_at ASC
		 LIMIT 1`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ProfilesForUser lists the user's profiles, default first.
func (s *SQLiteStore) ProfilesForUser(ctx context.Context, userID string) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, user_id, name, gender, relationship, birth_datetime,
		        birth_place, birth_location_id, is_default, created_at
		 FROM profiles
		 WHERE user_id = ?
		 ORDER BY is_default DESC, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ProfileByID returns nil when the profile does not exist.
func (s *SQLiteStore) ProfileByID(ctx context.Context, profileID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT profile_id, user_id, name, gender, relationship, birth_datetime,
		        birth_place, birth_location_id, is_default, created_at
		 FROM profiles WHERE profile_id = ?`, profileID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// CreateProfile inserts a profile, assigning an id if absent. The first
// profile a user creates becomes their default.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *Profile) error {
	if p.ProfileID == "" {
		p.ProfileID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE user_id = ?`, p.UserID).Scan(&count); err != nil {
		return fmt.Errorf("counting profiles: %w", err)
	}
	if count == 0 {
		p.IsDefault = true
	}

	var birth any
	if !p.BirthDatetime.IsZero() {
		birth = p.BirthDatetime.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (profile_id, user_id, name, gender, relationship,
		                       birth_datetime, birth_place, birth_location_id, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProfileID, p.UserID, p.Name, string(p.Gender), string(p.Relationship),
		birth, p.BirthPlace, p.BirthLocationID, boolToInt(p.IsDefault), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}
	return nil
}

// LocationByID returns nil when the id is unknown.
func (s *SQLiteStore) LocationByID(ctx context.Context, id int64) (*Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, region, country, timezone, lat, lng FROM locations WHERE id = ?`, id)
	var l Location
	err := row.Scan(&l.ID, &l.Name, &l.Region, &l.Country, &l.Timezone, &l.Lat, &l.Lng)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying location: %w", err)
	}
	return &l, nil
}

// SearchLocations ranks exact (case-insensitive) name matches before prefix
// matches.
func (s *SQLiteStore) SearchLocations(ctx context.Context, name string, limit int) ([]Location, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, region, country, timezone, lat, lng
		 FROM locations
		 WHERE name LIKE ? COLLATE NOCASE
		 ORDER BY (name = ? COLLATE NOCASE) DESC, name ASC
		 LIMIT ?`,
		name+"%", name, limit)
	if err != nil {
		return nil, fmt.Errorf("searching locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Region, &l.Country, &l.Timezone, &l.Lat, &l.Lng); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddLocation inserts a location row; used by initdb seeding and tests.
func (s *SQLiteStore) AddLocation(ctx context.Context, l Location) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (name, region, country, timezone, lat, lng)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.Name, l.Region, l.Country, l.Timezone, l.Lat, l.Lng)
	if err != nil {
		return 0, fmt.Errorf("adding location: %w", err)
	}
	return res.LastInsertId()
}

// ResolveUser returns the internal id for a channel identity, creating the
// user on first contact.
func (s *SQLiteStore) ResolveUser(ctx context.Context, channel ChannelType, channelUserID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM users WHERE channel = ? AND channel_user_id = ?`,
		string(channel), channelUserID).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("resolving user: %w", err)
	}

	userID = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, channel, channel_user_id, created_at) VALUES (?, ?, ?, ?)`,
		userID, string(channel), channelUserID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("creating user: %w", err)
	}
	logger.InfoCF("store", "New user registered", map[string]any{
		"channel": string(channel), "channel_user_id": channelUserID,
	})
	return userID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var gender, relationship string
	var birth sql.NullTime
	var isDefault int
	err := row.Scan(&p.ProfileID, &p.UserID, &p.Name, &gender, &relationship,
		&birth, &p.BirthPlace, &p.BirthLocationID, &isDefault, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Gender = Gender(gender)
	p.Relationship = Relationship(relationship)
	if birth.Valid {
		p.BirthDatetime = birth.Time
	}
	p.IsDefault = isDefault != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
