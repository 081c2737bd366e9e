package broadcast

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("broadcast: bus closed")

// MemoryBus is an in-process Bus. It exists for tests and for single
// process deployments where cross-instance sync has nothing to sync.
// Unlike the browser BroadcastChannel it delivers to every subscriber
// including the publisher's own, so consumers filter on Origin.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Message)
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Message))}
}

func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	handlers := make([]func(Message), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	// Deliver synchronously outside the lock so handlers may publish.
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, handler func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = make(map[int]func(Message))
	b.closed = true
	return nil
}
