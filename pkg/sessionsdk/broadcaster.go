package sessionsdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inkwellhq/inkwell-client/pkg/broadcast"
	"github.com/inkwellhq/inkwell-client/pkg/idx"
)

// TokenBroadcaster synchronizes token state across client instances over
// a broadcast.Bus. Publishing is throttled to one message per interval so
// rapid refresh retries cannot flood the channel; throttled announcements
// are dropped outright, there is no trailing flush. Incoming messages are
// ordered last-write-wins by timestamp: anything at or below the last
// applied timestamp is discarded, which also breaks re-broadcast cycles.
type TokenBroadcaster struct {
	bus     broadcast.Bus
	origin  idx.ID
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	// apply installs a remote token locally (empty string clears). It
	// must not announce, or two instances would ping-pong forever.
	apply func(token string)

	mu          sync.Mutex
	lastApplied int64
	cancelSub   func()
}

// NewTokenBroadcaster builds a broadcaster over bus. apply is invoked for
// every accepted remote update.
func NewTokenBroadcaster(bus broadcast.Bus, apply func(token string), opts Options) *TokenBroadcaster {
	opts = opts.withDefaults()
	return &TokenBroadcaster{
		bus:     bus,
		origin:  idx.New(),
		limiter: rate.NewLimiter(rate.Every(opts.BroadcastInterval), 1),
		logger:  opts.Logger,
		now:     opts.Clock,
		apply:   apply,
	}
}

// Origin identifies this instance on the bus.
func (b *TokenBroadcaster) Origin() string { return b.origin.String() }

// Start subscribes to the bus. Remote updates are applied until Stop.
func (b *TokenBroadcaster) Start(ctx context.Context) error {
	cancel, err := b.bus.Subscribe(ctx, b.handleRemote)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.cancelSub = cancel
	b.mu.Unlock()
	return nil
}

// Stop ends the bus subscription. Announce still works afterwards.
func (b *TokenBroadcaster) Stop() {
	b.mu.Lock()
	cancel := b.cancelSub
	b.cancelSub = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Announce publishes the current token (empty for a clear) to other
// instances. At most one announcement per throttle interval goes out;
// calls inside the window are dropped.
func (b *TokenBroadcaster) Announce(ctx context.Context, token string) {
	if !b.limiter.Allow() {
		b.logger.Debug("token announcement throttled")
		return
	}

	ts := b.now().UnixMilli()

	// Our own state is now the newest we know of; older remote messages
	// still in flight must not overwrite it.
	b.mu.Lock()
	if ts > b.lastApplied {
		b.lastApplied = ts
	}
	b.mu.Unlock()

	msg := broadcast.Message{
		Type:      broadcast.TypeTokenUpdated,
		Token:     token,
		Timestamp: ts,
		Origin:    b.origin.String(),
	}
	if err := b.bus.Publish(ctx, msg); err != nil {
		b.logger.Warn("token announcement failed", "err", err)
	}
}

// handleRemote applies a remote token update unless it is our own echo,
// the wrong type, or stale.
func (b *TokenBroadcaster) handleRemote(msg broadcast.Message) {
	if msg.Type != broadcast.TypeTokenUpdated || msg.Origin == b.origin.String() {
		return
	}

	b.mu.Lock()
	if msg.Timestamp <= b.lastApplied {
		b.mu.Unlock()
		b.logger.Debug("discarding stale token broadcast",
			"msg_ts", msg.Timestamp, "last_applied", b.lastApplied)
		return
	}
	b.lastApplied = msg.Timestamp
	b.mu.Unlock()

	b.apply(msg.Token)
}

// LastApplied returns the timestamp of the newest applied update.
func (b *TokenBroadcaster) LastApplied() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastApplied
}
