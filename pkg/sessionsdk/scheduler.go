package sessionsdk

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RefreshScheduler arms at most one timer that fires a silent token
// refresh ahead of expiry, and collapses concurrent refresh attempts into
// a single network call whose result every caller shares.
//
// Lifecycle: Idle -> Scheduled -> Firing -> Idle, repeating for as long
// as the session lives. A failed refresh clears local session state and
// signals session expiry; it never retries on its own.
type RefreshScheduler struct {
	client    *APIClient
	store     *TokenStore
	logger    *slog.Logger
	now       func() time.Time
	threshold time.Duration
	buffer    time.Duration
	timeout   time.Duration

	// onRefreshed runs after a successful refresh has been stored and
	// rescheduled; the manager announces the new token from here.
	onRefreshed func(token string)

	mu       sync.Mutex
	timer    *time.Timer
	inflight *refreshCall
	expired  chan struct{}
}

// refreshCall is the shared in-flight refresh. Waiters block on done and
// then read result.
type refreshCall struct {
	done   chan struct{}
	result RefreshResult
}

// NewRefreshScheduler builds a scheduler over the shared client and store.
func NewRefreshScheduler(client *APIClient, store *TokenStore, opts Options) *RefreshScheduler {
	opts = opts.withDefaults()
	return &RefreshScheduler{
		client:    client,
		store:     store,
		logger:    opts.Logger,
		now:       opts.Clock,
		threshold: opts.RefreshThreshold,
		buffer:    opts.RefreshBuffer,
		timeout:   opts.RefreshTimeout,
		expired:   make(chan struct{}),
	}
}

// SetOnRefreshed registers the post-refresh hook. Must be called before
// the first Schedule.
func (r *RefreshScheduler) SetOnRefreshed(fn func(token string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRefreshed = fn
}

// SessionExpired returns a channel closed when a refresh fails and
// session state is cleared. UI layers watch it to redirect to login. A
// fresh channel is armed after each firing, so callers re-acquire it
// after a new login.
func (r *RefreshScheduler) SessionExpired() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// Schedule arms the refresh timer for expiresAt - threshold, cancelling
// any previously pending timer. When the token is already within the
// buffer of that deadline the refresh fires immediately instead, without
// blocking the caller.
func (r *RefreshScheduler) Schedule(expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopTimerLocked()

	delay := expiresAt.Sub(r.now()) - r.threshold
	if delay <= r.buffer {
		r.logger.Debug("token near expiry, refreshing now", "expires_at", expiresAt)
		go r.backgroundRefresh()
		return
	}

	r.logger.Debug("silent refresh scheduled", "fire_in", delay)
	r.timer = time.AfterFunc(delay, r.backgroundRefresh)
}

// Cancel stops any pending refresh timer. An in-flight refresh is not
// interrupted; it always runs to completion.
func (r *RefreshScheduler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
}

func (r *RefreshScheduler) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *RefreshScheduler) backgroundRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.Refresh(ctx, true)
}

// Refresh obtains a new access token. If a refresh is already in flight
// the caller attaches to it and receives the same result; otherwise a
// single network call is made. On success the new token is stored, the
// next refresh is scheduled, and the onRefreshed hook runs. On failure
// session state is cleared and the expiry signal fires; the failure is
// reported in the result rather than surfaced asynchronously, so silent
// callers can ignore it.
func (r *RefreshScheduler) Refresh(ctx context.Context, silent bool) RefreshResult {
	r.mu.Lock()
	if call := r.inflight; call != nil {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.result
		case <-ctx.Done():
			return RefreshResult{OK: false, Err: ctx.Err()}
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	r.inflight = call
	onRefreshed := r.onRefreshed
	r.mu.Unlock()

	call.result = r.doRefresh(ctx, silent, onRefreshed)

	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()
	close(call.done)

	return call.result
}

func (r *RefreshScheduler) doRefresh(ctx context.Context, silent bool, onRefreshed func(string)) RefreshResult {
	resp, err := r.client.Refresh(ctx)
	if err != nil {
		if silent {
			r.logger.Info("silent refresh failed, session expired", "err", err)
		} else {
			r.logger.Warn("token refresh failed", "err", err)
		}
		if clearErr := r.store.Clear(ctx); clearErr != nil {
			r.logger.Warn("clearing session state failed", "err", clearErr)
		}
		r.signalExpired()
		return RefreshResult{OK: false, Err: err}
	}

	claims, err := r.store.Set(ctx, resp.AccessToken)
	if err != nil {
		// The server handed back a token we cannot decode; the store
		// already cleared, treat it like a failed refresh.
		r.signalExpired()
		return RefreshResult{OK: false, Err: err}
	}

	r.Schedule(claims.ExpiryTime())
	if onRefreshed != nil {
		onRefreshed(resp.AccessToken)
	}

	r.logger.Debug("access token refreshed", "expires_at", claims.ExpiryTime())
	return RefreshResult{OK: true, Token: resp.AccessToken, User: resp.User}
}

func (r *RefreshScheduler) signalExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.expired)
	r.expired = make(chan struct{})
}
