// Package bus carries messages between channel adapters and the dispatcher.
package bus

import (
	"context"
	"log/slog"
)

const defaultBufferSize = 256

// MessageBus is a buffered in-process implementation of MessageRouter.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a MessageBus with the default buffer sizes.
func New() *MessageBus {
	return NewWithBuffer(defaultBufferSize)
}

// NewWithBuffer creates a MessageBus whose queues hold up to size messages each.
func NewWithBuffer(size int) *MessageBus {
	if size < 1 {
		size = 1
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

// PublishInbound queues a message for the dispatcher. Drops (with a warning) when full
// so a slow pipeline cannot stall channel pollers.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, message dropped", "channel", msg.Channel, "chat_id", msg.ChatID, "id", msg.ID)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound queues a reply for channel delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, message dropped", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// SubscribeOutbound blocks until a reply is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}
