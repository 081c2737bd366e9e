package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bus := NewMemoryBus()
	defer bus.Close()

	var first, second []Message
	cancelFirst, err := bus.Subscribe(ctx, func(m Message) { first = append(first, m) })
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, func(m Message) { second = append(second, m) })
	require.NoError(t, err)

	msg := Message{Type: TypeTokenUpdated, Token: "tok-1", Timestamp: 100, Origin: "a"}
	require.NoError(t, bus.Publish(ctx, msg))
	require.Equal(t, []Message{msg}, first)
	require.Equal(t, []Message{msg}, second)

	// A cancelled subscriber stops receiving; others keep going.
	cancelFirst()
	require.NoError(t, bus.Publish(ctx, Message{Type: TypeTokenUpdated, Token: "tok-2", Timestamp: 200, Origin: "a"}))
	require.Len(t, first, 1)
	require.Len(t, second, 2)
}

func TestMemoryBusClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bus := NewMemoryBus()
	var got []Message
	_, err := bus.Subscribe(ctx, func(m Message) { got = append(got, m) })
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.Publish(ctx, Message{Type: TypeTokenUpdated}), ErrBusClosed)
	require.Empty(t, got)

	_, err = bus.Subscribe(ctx, func(Message) {})
	require.ErrorIs(t, err, ErrBusClosed)
}
