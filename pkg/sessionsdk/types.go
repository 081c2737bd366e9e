package sessionsdk

import "time"

// StoragePreference selects which backend holds the access token. The
// wire values match what the server-rendered settings page historically
// wrote, so existing stored preferences keep working.
type StoragePreference string

const (
	// PreferenceEphemeral keeps the token for the process lifetime only.
	PreferenceEphemeral StoragePreference = "session"
	// PreferenceDurable persists the token across restarts ("remember me").
	PreferenceDurable StoragePreference = "local"
)

// Keys under which session state is persisted. The preference and the
// degraded-CSRF flag always live in the durable backend so they survive
// restarts regardless of the token's own placement.
const (
	keyAccessToken = "accessToken"
	keyUserProfile = "auth_user"
	keyStorageType = "tokenStorageType"
	keyMockCSRF    = "use_mock_csrf"
)

// TokenResponse is the body of successful login and refresh responses.
type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	User        *UserProfile `json:"user,omitempty"`
}

// UserProfile is the minimal profile snapshot the client persists so the
// UI can render the current user without a network round-trip.
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Admin    bool   `json:"is_admin,omitempty"`
	Verified bool   `json:"is_verified,omitempty"`
	Approved bool   `json:"is_approved,omitempty"`
}

// RefreshResult is what every caller of a refresh receives, including
// callers that attached to an already in-flight refresh.
type RefreshResult struct {
	OK    bool
	Token string
	User  *UserProfile
	Err   error
}

// storedToken is the JSON layout of the persisted access token entry.
type storedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// csrfTokenResponse is the body of GET /auth/csrf-token.
type csrfTokenResponse struct {
	Token string `json:"csrf_token"`
	// CacheDuration is the server-advised cache lifetime in seconds.
	CacheDuration int `json:"cache_duration"`
}
