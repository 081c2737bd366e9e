// Package broadcast carries token-update messages between running client
// instances, the way browser tabs share one broadcast channel. Ordering
// across instances is last-write-wins by wall-clock timestamp; consumers
// are expected to discard anything older than what they last applied.
package broadcast

import "context"

// TypeTokenUpdated is the only message type currently on the wire.
const TypeTokenUpdated = "TOKEN_UPDATED"

// Message is a token-update event. Token is empty when the update is a
// clear (logout or refresh failure). Origin identifies the publishing
// instance so it can skip its own messages on buses that echo.
type Message struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Origin    string `json:"origin"`
}

// Bus is a fire-and-forget pub/sub channel. Delivery is best-effort:
// a missed update only means an instance keeps a slightly stale token
// until its own refresh corrects it.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers handler for incoming messages and returns a
	// cancel function that stops delivery. Malformed messages on the
	// wire are dropped, not surfaced.
	Subscribe(ctx context.Context, handler func(Message)) (func(), error)
	Close() error
}
