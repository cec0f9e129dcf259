package channel

import (
	"context"

	"chatroom/pkg/bus"
)

// Handler accepts one inbound channel message. Replies arrive later through
// Adapter.Deliver as the session drains its delivery queue.
type Handler func(context.Context, bus.InboundMessage) error

// Adapter bridges one external transport (for example Telegram) into chat sessions.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Deliver(context.Context, bus.OutboundMessage) error
}
