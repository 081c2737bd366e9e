package sessionsdk

import (
	"context"
	"log/slog"
	"sync"

	"github.com/inkwellhq/inkwell-client/pkg/broadcast"
	"github.com/inkwellhq/inkwell-client/pkg/jwtx"
	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
)

// Backends are the two storage backends the session state lives in.
type Backends struct {
	// Ephemeral holds the token when "remember me" is off; its contents
	// vanish with the process.
	Ephemeral kvstore.Store
	// Durable holds the token when "remember me" is on, plus the state
	// that must always survive restarts (storage preference, degraded
	// CSRF flag).
	Durable kvstore.Store
}

// Manager is the session facade application code talks to. It owns the
// token store, refresh scheduler, broadcaster and CSRF cache, and keeps
// all mutable session state on itself rather than in package globals so
// independent Managers (and tests) cannot interfere with each other.
type Manager struct {
	client      *APIClient
	store       *TokenStore
	scheduler   *RefreshScheduler
	broadcaster *TokenBroadcaster
	csrf        *CsrfTokenCache
	logger      *slog.Logger

	mu         sync.Mutex
	loggingOut bool
}

// NewManager wires the session components together and starts listening
// for cross-instance token updates on bus.
func NewManager(client *APIClient, backends Backends, bus broadcast.Bus, opts Options) (*Manager, error) {
	opts = opts.withDefaults()

	m := &Manager{
		client: client,
		logger: opts.Logger,
	}

	m.store = NewTokenStore(backends.Ephemeral, backends.Durable, client, opts)
	m.scheduler = NewRefreshScheduler(client, m.store, opts)
	m.csrf = NewCsrfTokenCache(client, backends.Durable, opts)
	m.broadcaster = NewTokenBroadcaster(bus, m.applyRemoteToken, opts)

	m.store.SetOnClear(func() {
		m.scheduler.Cancel()
		m.csrf.resetRetries()
	})
	m.scheduler.SetOnRefreshed(func(token string) {
		m.broadcaster.Announce(context.Background(), token)
	})
	client.SetOnUnauthorized(func() {
		go m.scheduler.backgroundRefresh()
	})

	if err := m.broadcaster.Start(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

// applyRemoteToken installs a token update announced by another instance.
// It never re-announces; the staleness check in the broadcaster already
// accepted the message as newest.
func (m *Manager) applyRemoteToken(token string) {
	ctx := context.Background()

	if token == "" {
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("clearing session after remote logout failed", "err", err)
		}
		return
	}

	claims, err := m.store.Set(ctx, token)
	if err != nil {
		m.logger.Warn("ignoring undecodable remote token", "err", err)
		return
	}
	// Rescheduling is local only, so no cycle: the peer that actually
	// refreshed holds the same expiry.
	m.scheduler.Schedule(claims.ExpiryTime())
}

// Login authenticates with email and password. remember selects durable
// token storage. A CSRF rejection or rate-limit on the credentials post
// is retried exactly once after force-refreshing the CSRF token; other
// failures are classified and returned.
func (m *Manager) Login(ctx context.Context, email, password string, remember bool) (*UserProfile, error) {
	pref := PreferenceEphemeral
	if remember {
		pref = PreferenceDurable
	}
	if err := m.store.SetPreference(ctx, pref); err != nil {
		return nil, err
	}

	if _, err := m.csrf.GetToken(ctx); err != nil {
		return nil, classifyLoginError(err)
	}

	resp, err := m.client.Login(ctx, email, password)
	if err != nil && isCSRFRejection(err) {
		m.logger.Info("login rejected by csrf protection, retrying once", "err", err)
		if _, csrfErr := m.csrf.Refresh(ctx, true); csrfErr == nil {
			resp, err = m.client.Login(ctx, email, password)
		}
	}
	if err != nil {
		return nil, classifyLoginError(err)
	}

	claims, err := m.store.Set(ctx, resp.AccessToken)
	if err != nil {
		return nil, err
	}
	m.scheduler.Schedule(claims.ExpiryTime())
	m.broadcaster.Announce(ctx, resp.AccessToken)

	user := resp.User
	if user == nil {
		user = profileFromClaims(claims)
	}
	if err := m.store.SaveProfile(ctx, user); err != nil {
		m.logger.Warn("persisting profile snapshot failed", "err", err)
	}

	m.logger.Info("login succeeded", "user_id", user.ID, "remember", remember)
	return user, nil
}

// Logout revokes the session server-side on a best-effort basis and
// always clears local state. A Logout while one is already in progress is
// a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.loggingOut {
		m.mu.Unlock()
		return nil
	}
	m.loggingOut = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loggingOut = false
		m.mu.Unlock()
	}()

	if err := m.client.Logout(ctx); err != nil {
		m.logger.Warn("server logout failed, clearing local state anyway", "err", err)
	}

	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.broadcaster.Announce(ctx, "")
	m.logger.Info("logged out")
	return nil
}

// Restore resumes a previous session from storage: it reattaches the
// Authorization header and schedules the next refresh. Returns false when
// no valid stored token exists.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	token, err := m.store.Get(ctx)
	if err != nil || token == "" {
		return false, err
	}

	claims, err := jwtx.Decode(token)
	if err != nil {
		// Stored state is unreadable; treat as absent.
		return false, m.store.Clear(ctx)
	}

	m.client.SetAuthorization(token)
	m.scheduler.Schedule(claims.ExpiryTime())
	return true, nil
}

// CurrentUser decodes the stored token without a network call. Profile
// fields the token does not carry come from the persisted snapshot.
func (m *Manager) CurrentUser(ctx context.Context) (*UserProfile, error) {
	token, err := m.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	claims, err := jwtx.Decode(token)
	if err != nil {
		return nil, ErrNotAuthenticated
	}

	user := profileFromClaims(claims)
	if snapshot := m.store.Profile(ctx); snapshot != nil {
		user.Name = snapshot.Name
		if user.Role == "" {
			user.Role = snapshot.Role
		}
	}
	return user, nil
}

// IsAuthenticated reports whether a valid, unexpired token is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	token, err := m.store.Get(ctx)
	return err == nil && token != ""
}

// Refresh forces a token refresh, sharing any refresh already in flight.
func (m *Manager) Refresh(ctx context.Context) RefreshResult {
	return m.scheduler.Refresh(ctx, false)
}

// SessionExpired exposes the scheduler's expiry signal.
func (m *Manager) SessionExpired() <-chan struct{} {
	return m.scheduler.SessionExpired()
}

// CsrfCache exposes the CSRF cache, mainly for degraded-mode inspection
// and reset.
func (m *Manager) CsrfCache() *CsrfTokenCache { return m.csrf }

// TokenStore exposes the underlying token store.
func (m *Manager) TokenStore() *TokenStore { return m.store }

// Close stops the refresh timer and the bus subscription. It does not
// clear session state; a closed Manager can be rebuilt over the same
// backends and resume via Restore.
func (m *Manager) Close() {
	m.scheduler.Cancel()
	m.broadcaster.Stop()
}

func profileFromClaims(claims *jwtx.Claims) *UserProfile {
	return &UserProfile{
		ID:       claims.UserID(),
		Email:    claims.Email,
		Role:     claims.Role,
		Admin:    claims.Admin,
		Verified: claims.Verified,
		Approved: claims.Approved,
	}
}
