// Package bus is the in-process seam between channel adapters and the
// dispatch loop. Adapters publish canonical requests inbound and consume
// canonical responses outbound; neither side calls the other directly, so
// a slow adapter cannot stall dispatch.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/lunalabs/luna/pkg/protocol"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

// Event is an external trigger (payment callback, async job completion)
// that may resume a waiting workflow. Message carries the addressing
// needed to deliver the resumed response.
type Event struct {
	Type    string
	Data    map[string]any
	Message *protocol.RequestMessage
}

type MessageBus struct {
	inbound  chan *protocol.RequestMessage
	outbound chan *protocol.ResponseMessage
	events   chan Event
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *protocol.RequestMessage, 100),
		outbound: make(chan *protocol.ResponseMessage, 100),
		events:   make(chan Event, 100),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg *protocol.RequestMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (*protocol.RequestMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg *protocol.ResponseMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.outbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (*protocol.ResponseMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// PublishEvent enqueues an external event for the dispatch loop.
func (mb *MessageBus) PublishEvent(ctx context.Context, ev Event) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.events <- ev:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeEvent blocks for the next external event.
func (mb *MessageBus) ConsumeEvent(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-mb.events:
		return ev, ok
	case <-mb.done:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
