// Package sessionsdk manages the authentication session of an Inkwell CMS
// client: token persistence across two backing stores, silent refresh
// scheduled ahead of expiry, cross-instance token synchronization, and
// CSRF token acquisition with rate-limit fallback.
//
// The entry point is Manager, which composes the parts and exposes the
// facade application code uses:
//
//	client := sessionsdk.NewAPIClient("https://api.example.com")
//	mgr, err := sessionsdk.NewManager(client, sessionsdk.Backends{
//		Ephemeral: kvstore.NewMemory(),
//		Durable:   durable,
//	}, bus, sessionsdk.Options{})
//	if err != nil { ... }
//	defer mgr.Close()
//
//	user, err := mgr.Login(ctx, email, password, remember)
//
// The individual components (TokenStore, RefreshScheduler,
// TokenBroadcaster, CsrfTokenCache) are exported for callers that need
// finer control, but Manager is the supported surface.
package sessionsdk
