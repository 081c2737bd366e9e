package sessionsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
)

// ErrCSRFRateLimited is returned while the server keeps answering 429 and
// the consecutive-failure ceiling has not been reached yet.
var ErrCSRFRateLimited = errors.New("sessionsdk: csrf token fetch rate limited")

// CsrfTokenCache fetches and caches the anti-forgery token the server
// requires on state-changing requests, honouring the server-supplied
// cache lifetime. Rate-limited fetches back off exponentially; after the
// ceiling of consecutive 429s the cache degrades to locally generated
// tokens and persists that choice.
//
// Degraded mode trades CSRF enforcement for availability: a client in
// this state operates without real CSRF protection until ResetFallback.
// It exists for flaky backends, not as a security decision, which is why
// entering it is logged at Warn and the flag requires an explicit reset.
type CsrfTokenCache struct {
	client  *APIClient
	durable kvstore.Store
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	maxRetries  int
	backoffBase time.Duration
	mockTTL     time.Duration

	mu          sync.Mutex
	entry       *csrfEntry
	retryCount  int
	mockMode    bool
	mockChecked bool
	pending     *pendingFetch
}

type csrfEntry struct {
	token     string
	expiresAt time.Time
}

// pendingFetch identifies one in-flight fetch so completion can tell
// whether it has been superseded by a newer one.
type pendingFetch struct {
	cancel context.CancelFunc
}

// NewCsrfTokenCache builds a cache over the shared client. The durable
// store persists the degraded-mode flag across restarts.
func NewCsrfTokenCache(client *APIClient, durable kvstore.Store, opts Options) *CsrfTokenCache {
	opts = opts.withDefaults()
	return &CsrfTokenCache{
		client:      client,
		durable:     durable,
		logger:      opts.Logger,
		now:         opts.Clock,
		sleep:       sleepCtx,
		maxRetries:  opts.CSRFMaxRetries,
		backoffBase: opts.CSRFBackoffBase,
		mockTTL:     opts.CSRFMockTTL,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetToken returns a CSRF token, serving the cached one while it is
// fresh. A call that needs the network supersedes any fetch still in
// flight; the superseded caller receives a cancellation, which it is
// expected to disregard.
func (c *CsrfTokenCache) GetToken(ctx context.Context) (string, error) {
	return c.fetch(ctx, false)
}

// Refresh is GetToken with an optional cache bypass.
func (c *CsrfTokenCache) Refresh(ctx context.Context, force bool) (string, error) {
	return c.fetch(ctx, force)
}

// InFallbackMode reports whether the cache is serving locally generated
// tokens instead of calling the server.
func (c *CsrfTokenCache) InFallbackMode(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadMockFlagLocked(ctx)
	return c.mockMode
}

// ResetFallback leaves degraded mode and clears the persisted flag, so
// the next GetToken goes back to the server.
func (c *CsrfTokenCache) ResetFallback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mockMode = false
	c.mockChecked = true
	c.retryCount = 0
	c.entry = nil
	return c.durable.Delete(ctx, keyMockCSRF)
}

// resetRetries clears the rate-limit streak. The manager calls it when
// session state is cleared.
func (c *CsrfTokenCache) resetRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount = 0
}

func (c *CsrfTokenCache) loadMockFlagLocked(ctx context.Context) {
	if c.mockChecked {
		return
	}
	c.mockChecked = true
	if value, err := c.durable.Get(ctx, keyMockCSRF); err == nil && value == "true" {
		c.mockMode = true
	}
}

func (c *CsrfTokenCache) fetch(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	c.loadMockFlagLocked(ctx)

	if c.mockMode {
		token := c.mockTokenLocked()
		c.mu.Unlock()
		return token, nil
	}

	if !force && c.entry != nil && c.now().Before(c.entry.expiresAt) {
		token := c.entry.token
		c.mu.Unlock()
		return token, nil
	}

	// A newer fetch supersedes whatever is still in flight.
	if c.pending != nil {
		c.pending.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := &pendingFetch{cancel: cancel}
	c.pending = p

	retryCount := c.retryCount
	c.mu.Unlock()

	// Backoff before retrying after a prior rate-limit failure, as an
	// explicit computed delay rather than recursion.
	if retryCount > 0 {
		delay := c.backoffBase * (1 << (retryCount - 1))
		if err := c.sleep(fetchCtx, delay); err != nil {
			c.mu.Lock()
			if c.pending == p {
				c.pending = nil
			}
			c.mu.Unlock()
			return "", err
		}
	}

	resp, err := c.client.CSRFToken(fetchCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == p {
		c.pending = nil
	}

	if err != nil {
		if fetchCtx.Err() != nil && ctx.Err() == nil {
			// Superseded by a newer fetch; this outcome is disregarded.
			return "", fetchCtx.Err()
		}
		if IsRateLimited(err) {
			c.retryCount++
			if c.retryCount > c.maxRetries {
				return c.enterFallbackLocked(ctx), nil
			}
			c.logger.Info("csrf token fetch rate limited",
				"retry_count", c.retryCount, "max_retries", c.maxRetries)
			return "", fmt.Errorf("%w: %w", ErrCSRFRateLimited, err)
		}
		// Degraded mode requires an unbroken run of 429s; any other
		// failure ends the streak.
		c.retryCount = 0
		c.logger.Warn("csrf token fetch failed", "err", err)
		return "", err
	}

	c.retryCount = 0
	ttl := time.Duration(resp.CacheDuration) * time.Second
	c.entry = &csrfEntry{token: resp.Token, expiresAt: c.now().Add(ttl)}
	c.client.SetCSRFToken(resp.Token)
	return resp.Token, nil
}

// enterFallbackLocked flips the cache into degraded mode, persists the
// flag, and returns a locally generated token.
func (c *CsrfTokenCache) enterFallbackLocked(ctx context.Context) string {
	c.mockMode = true
	c.logger.Warn("csrf retry ceiling hit, degrading to locally generated tokens",
		"max_retries", c.maxRetries)
	if err := c.durable.Set(ctx, keyMockCSRF, "true"); err != nil {
		c.logger.Warn("failed to persist csrf fallback flag", "err", err)
	}
	return c.mockTokenLocked()
}

// mockTokenLocked returns the cached fallback token, generating a new
// time-seeded one when none is fresh.
func (c *CsrfTokenCache) mockTokenLocked() string {
	now := c.now()
	if c.entry != nil && now.Before(c.entry.expiresAt) {
		return c.entry.token
	}

	token := fmt.Sprintf("mock-csrf-%d-%s", now.UnixMilli(), uuid.NewString())
	c.entry = &csrfEntry{token: token, expiresAt: now.Add(c.mockTTL)}
	c.client.SetCSRFToken(token)
	return token
}
