package session_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-client/pkg/broadcast"
	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
	"github.com/inkwellhq/inkwell-client/pkg/sessionsdk"
)

// inkwellServer is a stateful stand-in for the Inkwell API. It issues
// short-lived signed tokens so the refresh scheduler has something real
// to race against.
type inkwellServer struct {
	t        *testing.T
	server   *httptest.Server
	tokenTTL time.Duration

	loginCount   atomic.Int64
	refreshCount atomic.Int64
	logoutCount  atomic.Int64

	failRefresh atomic.Bool
}

func startInkwellServer(t *testing.T, tokenTTL time.Duration) *inkwellServer {
	t.Helper()

	s := &inkwellServer{t: t, tokenTTL: tokenTTL}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh-token", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/csrf-token", s.handleCSRF)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *inkwellServer) mint(subject string) string {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("e2e-secret"))
	require.NoError(s.t, err)
	return raw
}

func (s *inkwellServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCount.Add(1)

	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Password != "correct-password" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_credentials","error_description":"bad email or password"}`)
		return
	}

	s.writeJSON(w, sessionsdk.TokenResponse{
		AccessToken: s.mint("e2e-user"),
		User:        &sessionsdk.UserProfile{ID: "e2e-user", Email: creds.Email, Name: "E2E User"},
	})
}

func (s *inkwellServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCount.Add(1)
	if s.failRefresh.Load() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_credentials","error_description":"refresh token revoked"}`)
		return
	}
	s.writeJSON(w, sessionsdk.TokenResponse{AccessToken: s.mint("e2e-user")})
}

func (s *inkwellServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCount.Add(1)
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *inkwellServer) handleCSRF(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"csrf_token": "e2e-csrf", "cache_duration": 3600})
}

func (s *inkwellServer) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// newInstance builds one client instance ("tab") over the shared bus,
// with its own ephemeral backend and the given durable backend.
func newInstance(t *testing.T, s *inkwellServer, bus broadcast.Bus, durable kvstore.Store, opts sessionsdk.Options) (*sessionsdk.Manager, *sessionsdk.APIClient) {
	t.Helper()

	client := sessionsdk.NewAPIClient(s.server.URL)
	mgr, err := sessionsdk.NewManager(client, sessionsdk.Backends{
		Ephemeral: kvstore.NewMemory(),
		Durable:   durable,
	}, bus, opts)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr, client
}
