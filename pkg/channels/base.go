// Package channels hosts the platform adapters. Each adapter translates its
// platform's payloads into canonical requests on the way in and renders
// canonical responses back out, including quick-reply options as whatever
// the platform offers (inline keyboards, interactive buttons, numbered
// lists). Adapters never talk to the router; everything crosses the bus.
package channels

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg *protocol.ResponseMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// dedupeCapacity bounds the idempotency key set. Webhook platforms redeliver
// on timeout; a few thousand keys covers the redelivery window.
const dedupeCapacity = 2048

// BaseChannelOption is a functional option for configuring a BaseChannel.
type BaseChannelOption func(*BaseChannel)

// WithMaxMessageLength sets the maximum message length (in runes) for a
// channel. A value of 0 means no limit.
func WithMaxMessageLength(n int) BaseChannelOption {
	return func(c *BaseChannel) { c.maxMessageLength = n }
}

// MessageLengthProvider is an opt-in interface that channels implement to
// advertise their maximum message length. The Manager uses this via type
// assertion to decide whether to split outbound messages.
type MessageLengthProvider interface {
	MaxMessageLength() int
}

type BaseChannel struct {
	bus              *bus.MessageBus
	running          atomic.Bool
	name             string
	allowList        []string
	maxMessageLength int

	dedupeMu    sync.Mutex
	dedupeSeen  map[string]struct{}
	dedupeOrder []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowList []string, opts ...BaseChannelOption) *BaseChannel {
	bc := &BaseChannel{
		bus:        b,
		name:       name,
		allowList:  allowList,
		dedupeSeen: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// MaxMessageLength returns the maximum message length (in runes) for this
// channel. A value of 0 means no limit.
func (c *BaseChannel) MaxMessageLength() int {
	return c.maxMessageLength
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed checks senderID against the allow-list. An empty list allows
// everyone. Entries and sender ids may use the compound "id|username" form;
// either side of the compound matches, and a leading "@" on an entry is
// ignored for username matching.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// IdempotencyKey builds the dedupe key for a platform event. A missing
// message id gets a fresh uuid, which makes the event always-new.
func IdempotencyKey(channel, chatID, messageID string) string {
	id := messageID
	if id == "" {
		id = uuid.New().String()
	}
	return channel + ":" + chatID + ":" + id
}

// markSeen records key and reports whether it was already present. The set
// is bounded; the oldest key is evicted once capacity is reached.
func (c *BaseChannel) markSeen(key string) bool {
	c.dedupeMu.Lock()
	defer c.dedupeMu.Unlock()
	if _, ok := c.dedupeSeen[key]; ok {
		return true
	}
	c.dedupeSeen[key] = struct{}{}
	c.dedupeOrder = append(c.dedupeOrder, key)
	if len(c.dedupeOrder) > dedupeCapacity {
		oldest := c.dedupeOrder[0]
		c.dedupeOrder = c.dedupeOrder[1:]
		delete(c.dedupeSeen, oldest)
	}
	return false
}

// HandleMessage normalizes one platform event into a canonical request and
// publishes it inbound. Blocked senders and redelivered events are dropped
// silently; platforms retry on their own schedule and a drop is the correct
// acknowledgement for both. The context is the adapter's delivery context
// (poll loop, webhook request); its cancellation releases a publish blocked
// on a full or closing bus.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, messageID, content string, contentType protocol.ContentType, selected *protocol.SelectedQuickReply, metadata map[string]any) {
	if !c.IsAllowed(senderID) {
		logger.DebugCF("channels", "Sender not in allow-list", map[string]any{
			"channel": c.name, "sender_id": senderID,
		})
		return
	}
	if c.markSeen(IdempotencyKey(c.name, senderID, messageID)) {
		logger.DebugCF("channels", "Duplicate event dropped", map[string]any{
			"channel": c.name, "message_id": messageID,
		})
		return
	}

	msg := &protocol.RequestMessage{
		ChannelType:   c.name,
		ChannelUserID: senderID,
		ContentType:   contentType,
		Content:       content,
		Metadata:      metadata,
		Timestamp:     time.Now().UTC(),
		SelectedReply: selected,
	}
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		logger.ErrorCF("channels", "Inbound publish failed", map[string]any{
			"channel": c.name, "error": err.Error(),
		})
	}
}
