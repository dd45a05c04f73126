package channels

import (
	"context"
	"sync"

	"github.com/lunalabs/luna/pkg/bus"
	"github.com/lunalabs/luna/pkg/logger"
	"github.com/lunalabs/luna/pkg/protocol"
)

// Manager owns the registered channels: it starts and stops them together
// and fans outbound responses from the bus to the right adapter.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered channel. A channel that fails to start is
// logged and skipped; the rest keep running.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Channel failed to start", map[string]any{
				"channel": name, "error": err.Error(),
			})
			continue
		}
		logger.InfoCF("channels", "Channel started", map[string]any{"channel": name})
	}
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]any{
				"channel": name, "error": err.Error(),
			})
		}
	}
}

// DispatchOutbound consumes outbound responses until ctx is cancelled or the
// bus closes, delivering each to the adapter named by its channel type.
// Delivery failures are logged and dropped; there is no retry at this layer.
func (m *Manager) DispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		m.deliver(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg *protocol.ResponseMessage) {
	ch, ok := m.Channel(msg.ChannelType)
	if !ok {
		logger.WarnCF("channels", "Outbound for unregistered channel", map[string]any{
			"channel": msg.ChannelType, "user_id": msg.UserID,
		})
		return
	}

	for _, part := range splitForChannel(ch, msg) {
		if err := ch.Send(ctx, part); err != nil {
			logger.ErrorCF("channels", "Outbound send failed", map[string]any{
				"channel": msg.ChannelType, "user_id": msg.UserID, "error": err.Error(),
			})
			return
		}
	}
}

// splitForChannel breaks an over-length response into rune-bounded parts for
// channels that advertise a limit. Reply options ride on the last part so
// the buttons land under the final bubble.
func splitForChannel(ch Channel, msg *protocol.ResponseMessage) []*protocol.ResponseMessage {
	limit := 0
	if p, ok := ch.(MessageLengthProvider); ok {
		limit = p.MaxMessageLength()
	}
	runes := []rune(msg.Content)
	if limit <= 0 || len(runes) <= limit {
		return []*protocol.ResponseMessage{msg}
	}

	var parts []*protocol.ResponseMessage
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		part := *msg
		part.Content = string(runes[:n])
		part.ReplyOptions = nil
		runes = runes[n:]
		parts = append(parts, &part)
	}
	parts[len(parts)-1].ReplyOptions = msg.ReplyOptions
	return parts
}
