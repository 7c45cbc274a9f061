package messaging

import (
	"context"
)

// Broker is the pluggable fan-out bus consumed by the realtime hub.
// A process publishes tenant broadcasts to it so sibling processes,
// each holding their own subset of connections, receive the event.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
