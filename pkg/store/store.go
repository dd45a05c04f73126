// Package store defines the persistence contracts consumed by the
// conversational core (conversation history, birth profiles, location
// lookup, user resolution) and a SQLite implementation of them. The session
// cache treats these as collaborators: every call is best-effort from the
// caller's point of view and failures degrade, they never abort a turn.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/lunalabs/luna/pkg/protocol"
)

// ChannelType identifies a chat transport.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelDiscord  ChannelType = "discord"
	ChannelWeb      ChannelType = "web"
	ChannelCLI      ChannelType = "cli"
)

// MessageType records direction and payload kind of a persisted message.
// Incoming types share the "incoming" prefix; the session manager derives
// turn roles from it during hydration.
type MessageType string

const (
	IncomingText     MessageType = "incoming-text"
	IncomingVoice    MessageType = "incoming-voice"
	IncomingMedia    MessageType = "incoming-media"
	IncomingDocument MessageType = "incoming-document"
	OutgoingText     MessageType = "outgoing-text"
	OutgoingVoice    MessageType = "outgoing-voice"
	OutgoingMedia    MessageType = "outgoing-media"
	OutgoingDocument MessageType = "outgoing-document"
)

// IsIncoming reports whether the message came from the user.
func (mt MessageType) IsIncoming() bool {
	return strings.HasPrefix(string(mt), "incoming")
}

// IncomingTypeFor maps a canonical content type to its incoming MessageType.
func IncomingTypeFor(ct protocol.ContentType) MessageType {
	switch ct {
	case protocol.ContentVoice:
		return IncomingVoice
	case protocol.ContentDocument:
		return IncomingDocument
	case protocol.ContentMedia:
		return IncomingMedia
	default:
		return IncomingText
	}
}

// OutgoingTypeFor maps a canonical content type to its outgoing MessageType.
func OutgoingTypeFor(ct protocol.ContentType) MessageType {
	switch ct {
	case protocol.ContentVoice:
		return OutgoingVoice
	case protocol.ContentDocument:
		return OutgoingDocument
	case protocol.ContentMedia:
		return OutgoingMedia
	default:
		return OutgoingText
	}
}

// Conversation is one persisted message.
type Conversation struct {
	ID             int64
	UserID         string
	Channel        ChannelType
	MessageType    MessageType
	Content        string
	AdditionalInfo map[string]any
	CreatedAt      time.Time
}

// Gender of a profile subject.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Relationship of the profile subject to the account owner.
type Relationship string

const (
	RelationSelf    Relationship = "self"
	RelationParent  Relationship = "parent"
	RelationChild   Relationship = "child"
	RelationSibling Relationship = "sibling"
	RelationFriend  Relationship = "friend"
	RelationPartner Relationship = "partner"
	RelationOther   Relationship = "other"
)

// Profile holds the birth details a kundli is computed from. BirthDatetime
// is stored in UTC when the birth location's timezone could be resolved,
// otherwise as given.
type Profile struct {
	ProfileID       string
	UserID          string
	Name            string
	Gender          Gender
	Relationship    Relationship
	BirthDatetime   time.Time
	BirthPlace      string
	BirthLocationID int64 // 0 when unresolved
	IsDefault       bool
	CreatedAt       time.Time
}

// Location is a resolved geographic place with its IANA timezone.
type Location struct {
	ID       int64
	Name     string
	Region   string
	Country  string
	Timezone string
	Lat      float64
	Lng      float64
}

// DisplayName renders "Name, Region, Country" omitting blanks.
func (l Location) DisplayName() string {
	parts := []string{l.Name}
	if l.Region != "" {
		parts = append(parts, l.Region)
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	return strings.Join(parts, ", ")
}

// ConversationStore is the append-only turn history contract.
type ConversationStore interface {
	// SaveMessage appends one message to the user's history.
	SaveMessage(ctx context.Context, userID string, channel ChannelType, mt MessageType, content string, additionalInfo map[string]any) (*Conversation, error)
	// ConversationHistory returns up to limit messages, most recent first.
	// Callers needing chronological order must re-sort.
	ConversationHistory(ctx context.Context, userID string, channel ChannelType, limit int) ([]Conversation, error)
	// CleanupOlderThan deletes messages older than the given age and
	// returns how many were removed.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// ProfileStore is the birth-profile contract.
type ProfileStore interface {
	// DefaultProfileForUser returns the user's default profile, or nil
	// when the user has none.
	DefaultProfileForUser(ctx context.Context, userID string) (*Profile, error)
	ProfilesForUser(ctx context.Context, userID string) ([]Profile, error)
	ProfileByID(ctx context.Context, profileID string) (*Profile, error)
	CreateProfile(ctx context.Context, p *Profile) error
}

// LocationResolver resolves birth places to locations with timezones.
type LocationResolver interface {
	// LocationByID returns nil when the id is unknown.
	LocationByID(ctx context.Context, id int64) (*Location, error)
	// SearchLocations matches by name, exact matches ranked before fuzzy
	// prefix matches.
	SearchLocations(ctx context.Context, name string, limit int) ([]Location, error)
}

// UserStore resolves channel identities to internal user ids.
type UserStore interface {
	// ResolveUser returns the internal user id for a channel identity,
	// creating the user on first contact.
	ResolveUser(ctx context.Context, channel ChannelType, channelUserID string) (string, error)
}
