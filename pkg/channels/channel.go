package channels

import (
	"context"

	"github.com/corvid-ai/corvid/pkg/delivery"
)

// InboundMessage is the normalized ingress payload from any channel.
type InboundMessage struct {
	Channel    string
	SessionKey string
	AgentID    string
	Content    string
	Metadata   map[string]interface{}

	// Messenger, when non-nil, lets the runtime deliver output
	// incrementally through the originating channel.
	Messenger delivery.Messenger
}

// DispatchFunc routes an inbound channel message into the runtime and
// returns the final response text.
type DispatchFunc func(ctx context.Context, msg InboundMessage) (string, error)

// Channel is a channel runtime abstraction (telegram, gateway, direct, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch DispatchFunc) error
	Stop(ctx context.Context) error
}
