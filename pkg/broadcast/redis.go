package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel name shared by all Inkwell client
// instances of one deployment.
const DefaultChannel = "inkwell:session:token-updates"

// RedisBus is a Bus over Redis pub/sub. Redis echoes published messages
// back to the publisher's own subscription, so Origin filtering by the
// consumer is required, same as MemoryBus.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus verifies connectivity and returns a bus on the given
// channel; an empty channel selects DefaultChannel.
func NewRedisBus(client redis.UniversalClient, channel string) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisBus{client: client, channel: channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(Message)) (func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)

	// Force the subscription to be established before returning so a
	// Publish immediately after Subscribe is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		for raw := range sub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				continue // malformed messages are ignored
			}
			handler(msg)
		}
	}()

	return func() { _ = sub.Close() }, nil
}

func (b *RedisBus) Close() error { return b.client.Close() }
