package session_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwellhq/inkwell-client/pkg/broadcast"
	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
	"github.com/inkwellhq/inkwell-client/pkg/sessionsdk"
)

// e2eOptions tunes the session components so a full lifecycle fits in a
// few seconds: 2s tokens refreshed 1s before expiry.
func e2eOptions() sessionsdk.Options {
	return sessionsdk.Options{
		RefreshThreshold:  time.Second,
		RefreshBuffer:     100 * time.Millisecond,
		RefreshTimeout:    5 * time.Second,
		BroadcastInterval: time.Millisecond,
	}
}

// TestSessionLifecycle runs the full flow across two client instances
// sharing one bus: login, cross-instance propagation, scheduled refresh,
// and logout.
func TestSessionLifecycle(t *testing.T) {
	server := startInkwellServer(t, 2*time.Second)
	bus := broadcast.NewMemoryBus()
	durable := kvstore.NewMemory()

	mgrA, clientA := newInstance(t, server, bus, durable, e2eOptions())
	mgrB, clientB := newInstance(t, server, bus, durable, e2eOptions())

	ctx := t.Context()

	user, err := mgrA.Login(ctx, "writer@example.com", "correct-password", false)
	require.NoError(t, err)
	require.Equal(t, "e2e-user", user.ID)
	t.Logf("instance A logged in as %s", user.Email)

	// The login announcement reaches instance B without B ever talking
	// to the server.
	require.Eventually(t, func() bool {
		return mgrB.IsAuthenticated(ctx)
	}, 2*time.Second, 10*time.Millisecond, "login should propagate to instance B")
	require.Equal(t, clientA.AuthorizationHeader(), clientB.AuthorizationHeader())
	t.Logf("token propagated to instance B")

	// The scheduler refreshes roughly 1s in; wait for the server to see
	// it and for both instances to pick up the new token.
	require.Eventually(t, func() bool {
		return server.refreshCount.Load() >= 1
	}, 3*time.Second, 25*time.Millisecond, "scheduled refresh should reach the server")
	require.Eventually(t, func() bool {
		auth := clientA.AuthorizationHeader()
		return auth != "" && auth == clientB.AuthorizationHeader()
	}, 2*time.Second, 10*time.Millisecond, "refreshed token should propagate")
	require.True(t, mgrA.IsAuthenticated(ctx))
	require.True(t, mgrB.IsAuthenticated(ctx))
	t.Logf("scheduled refresh completed (%d refresh calls)", server.refreshCount.Load())

	require.NoError(t, mgrA.Logout(ctx))
	require.False(t, mgrA.IsAuthenticated(ctx))
	require.Eventually(t, func() bool {
		return !mgrB.IsAuthenticated(ctx)
	}, 2*time.Second, 10*time.Millisecond, "logout should propagate to instance B")
	require.EqualValues(t, 1, server.logoutCount.Load())
	t.Logf("logout propagated to instance B")
}

// TestSessionSurvivesRestart logs in with remember enabled, tears the
// instance down, and restores over the same SQLite state file.
func TestSessionSurvivesRestart(t *testing.T) {
	server := startInkwellServer(t, time.Hour)

	dbPath := filepath.Join(t.TempDir(), "session.db")
	durable, err := kvstore.OpenSQLite("file:" + dbPath)
	require.NoError(t, err)

	mgr, _ := newInstance(t, server, broadcast.NewMemoryBus(), durable, e2eOptions())

	_, err = mgr.Login(t.Context(), "writer@example.com", "correct-password", true)
	require.NoError(t, err)
	mgr.Close()
	require.NoError(t, durable.Close())
	t.Logf("instance stopped with a remembered session")

	durable2, err := kvstore.OpenSQLite("file:" + dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = durable2.Close() })

	mgr2, client2 := newInstance(t, server, broadcast.NewMemoryBus(), durable2, e2eOptions())

	ok, err := mgr2.Restore(t.Context())
	require.NoError(t, err)
	require.True(t, ok, "remembered session should survive the restart")
	require.NotEmpty(t, client2.AuthorizationHeader())

	user, err := mgr2.CurrentUser(t.Context())
	require.NoError(t, err)
	require.Equal(t, "e2e-user", user.ID)
	t.Logf("session restored for %s", user.ID)
}

// TestSessionExpiryOnFailedRefresh revokes the refresh token server-side
// and verifies the client signals expiry and clears itself.
func TestSessionExpiryOnFailedRefresh(t *testing.T) {
	server := startInkwellServer(t, 2*time.Second)

	mgr, client := newInstance(t, server, broadcast.NewMemoryBus(), kvstore.NewMemory(), e2eOptions())

	ctx := t.Context()
	_, err := mgr.Login(ctx, "writer@example.com", "correct-password", false)
	require.NoError(t, err)

	expired := mgr.SessionExpired()
	server.failRefresh.Store(true)

	select {
	case <-expired:
	case <-time.After(5 * time.Second):
		t.Fatal("session expiry signal never fired")
	}

	require.False(t, mgr.IsAuthenticated(ctx))
	require.Empty(t, client.AuthorizationHeader())
	t.Logf("session expired after %d failed refresh attempt(s)", server.refreshCount.Load())
}
