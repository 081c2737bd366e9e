package sessionsdk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/inkwellhq/inkwell-client/pkg/jwtx"
	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
)

// TokenStore holds the current access token in exactly one of two
// backends, selected by the user's storage preference. Reads fall back to
// the other backend so a preference change between sessions does not
// strand a still-valid token, and migrate the entry when that happens.
//
// Side effects are deliberately narrow: the two backends and the shared
// API client's default Authorization header.
type TokenStore struct {
	ephemeral kvstore.Store
	durable   kvstore.Store
	client    *APIClient
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cached  *storedToken
	onClear func()
}

// NewTokenStore wires a store over the two backends and the shared client.
func NewTokenStore(ephemeral, durable kvstore.Store, client *APIClient, opts Options) *TokenStore {
	opts = opts.withDefaults()
	return &TokenStore{
		ephemeral: ephemeral,
		durable:   durable,
		client:    client,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
}

// SetOnClear registers a hook run at the end of every Clear. The manager
// uses it to cancel the pending refresh timer and reset retry counters.
func (s *TokenStore) SetOnClear(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClear = fn
}

// Preference returns the stored storage preference. The preference always
// lives in the durable backend so it survives restarts; absence means
// ephemeral.
func (s *TokenStore) Preference(ctx context.Context) StoragePreference {
	value, err := s.durable.Get(ctx, keyStorageType)
	if err != nil || StoragePreference(value) != PreferenceDurable {
		return PreferenceEphemeral
	}
	return PreferenceDurable
}

// SetPreference records the storage preference, chosen once per login.
func (s *TokenStore) SetPreference(ctx context.Context, pref StoragePreference) error {
	return s.durable.Set(ctx, keyStorageType, string(pref))
}

func (s *TokenStore) active(ctx context.Context) kvstore.Store {
	if s.Preference(ctx) == PreferenceDurable {
		return s.durable
	}
	return s.ephemeral
}

func (s *TokenStore) alternate(ctx context.Context) kvstore.Store {
	if s.Preference(ctx) == PreferenceDurable {
		return s.ephemeral
	}
	return s.durable
}

// Set decodes the token and persists it to the backend matching the
// current preference, removing any copy in the other backend, and
// attaches it to the shared client's Authorization header. A token whose
// expiry cannot be decoded is never stored: Set clears instead and
// returns the decode error.
func (s *TokenStore) Set(ctx context.Context, token string) (*jwtx.Claims, error) {
	claims, err := jwtx.Decode(token)
	if err != nil {
		s.logger.Warn("rejecting undecodable access token", "err", err)
		if clearErr := s.Clear(ctx); clearErr != nil {
			return nil, errors.Join(err, clearErr)
		}
		return nil, err
	}

	entry := storedToken{Token: token, ExpiresAt: claims.ExpiryTime()}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.active(ctx).Set(ctx, keyAccessToken, string(encoded)); err != nil {
		return nil, err
	}
	if err := s.alternate(ctx).Delete(ctx, keyAccessToken); err != nil {
		s.logger.Warn("failed to remove stale token copy", "err", err)
	}

	s.cached = &entry
	s.client.SetAuthorization(token)
	return claims, nil
}

// Get returns the current access token, or empty when none is stored.
// Expired and malformed entries are deleted eagerly; a valid entry found
// only in the alternate backend is migrated into the active one.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		if s.now().Before(s.cached.ExpiresAt) {
			return s.cached.Token, nil
		}
		s.cached = nil
		if err := s.active(ctx).Delete(ctx, keyAccessToken); err != nil {
			return "", err
		}
	}

	for _, backend := range []kvstore.Store{s.active(ctx), s.alternate(ctx)} {
		raw, err := backend.Get(ctx, keyAccessToken)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}

		var entry storedToken
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Token == "" {
			// Malformed state is treated as absent, not surfaced.
			_ = backend.Delete(ctx, keyAccessToken)
			continue
		}
		if !s.now().Before(entry.ExpiresAt) {
			_ = backend.Delete(ctx, keyAccessToken)
			continue
		}

		if backend == s.alternate(ctx) {
			s.migrate(ctx, raw)
		}
		s.cached = &entry
		return entry.Token, nil
	}

	return "", nil
}

// migrate moves a token entry found in the alternate backend into the
// active one. Best-effort: a failed migration leaves the original copy.
func (s *TokenStore) migrate(ctx context.Context, raw string) {
	if err := s.active(ctx).Set(ctx, keyAccessToken, raw); err != nil {
		s.logger.Warn("token migration failed", "err", err)
		return
	}
	_ = s.alternate(ctx).Delete(ctx, keyAccessToken)
}

// Clear removes the token and profile snapshot from both backends, drops
// the in-memory copy, detaches the Authorization header, and runs the
// registered onClear hook. Idempotent.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached = nil
	hook := s.onClear
	s.mu.Unlock()

	var errs []error
	for _, backend := range []kvstore.Store{s.ephemeral, s.durable} {
		for _, key := range []string{keyAccessToken, keyUserProfile} {
			if err := backend.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.client.ClearAuthorization()
	if hook != nil {
		hook()
	}
	return errors.Join(errs...)
}

// SaveProfile persists the minimal user snapshot next to the token.
func (s *TokenStore) SaveProfile(ctx context.Context, user *UserProfile) error {
	encoded, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.active(ctx).Set(ctx, keyUserProfile, string(encoded))
}

// Profile returns the persisted snapshot, or nil when absent or unreadable.
func (s *TokenStore) Profile(ctx context.Context) *UserProfile {
	raw, _, err := kvstore.ReadWithFallback(ctx, s.active(ctx), s.alternate(ctx), keyUserProfile)
	if err != nil {
		return nil
	}
	var user UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil
	}
	return &user
}
