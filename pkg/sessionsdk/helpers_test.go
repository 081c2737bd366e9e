package sessionsdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-client/pkg/jwtx"
	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
)

// mintToken produces a decodable access token for the given subject and
// expiry. The signature is irrelevant client-side.
func mintToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()

	claims := jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email: subject + "@example.com",
		Role:  "writer",
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

// fakeAPI is a minimal Inkwell API for tests. Handlers may be nil, in
// which case the endpoint 404s. Hit counters are atomic so tests can
// assert call counts across goroutines.
type fakeAPI struct {
	server *httptest.Server

	loginHits   atomic.Int64
	refreshHits atomic.Int64
	logoutHits  atomic.Int64
	csrfHits    atomic.Int64

	login   http.HandlerFunc
	refresh http.HandlerFunc
	logout  http.HandlerFunc
	csrf    http.HandlerFunc
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		api.loginHits.Add(1)
		api.dispatch(api.login, w, r)
	})
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		api.refreshHits.Add(1)
		api.dispatch(api.refresh, w, r)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		api.logoutHits.Add(1)
		api.dispatch(api.logout, w, r)
	})
	mux.HandleFunc("GET /auth/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		api.csrfHits.Add(1)
		api.dispatch(api.csrf, w, r)
	})

	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) dispatch(h http.HandlerFunc, w http.ResponseWriter, r *http.Request) {
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (a *fakeAPI) client() *APIClient {
	return NewAPIClient(a.server.URL)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// testOptions returns quiet, fast options suitable for unit tests.
func testOptions() Options {
	return Options{
		RefreshTimeout:  5 * time.Second,
		CSRFBackoffBase: time.Millisecond,
	}
}

func memoryBackends() (ephemeral, durable *kvstore.Memory) {
	return kvstore.NewMemory(), kvstore.NewMemory()
}
