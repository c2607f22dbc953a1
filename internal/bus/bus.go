// ABOUTME: Pub/sub bus interface shared by the Redis and in-memory backbones
// ABOUTME: Channels are plain strings; subscriptions use Redis-style glob patterns

package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// ErrUnavailable is returned when the backbone cannot be reached.
var ErrUnavailable = errors.New("bus unavailable")

// Message is one payload received from a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription streams messages matching its patterns. The Messages channel
// is closed when the subscription ends, either through Close or because the
// backbone connection was lost.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus publishes to named channels and subscribes by pattern.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, patterns ...string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}
