package sessionsdk

import (
	"log/slog"
	"time"
)

// Defaults for Options fields left at their zero value.
const (
	// DefaultRefreshThreshold is how long before token expiry the
	// silent refresh fires.
	DefaultRefreshThreshold = 5 * time.Minute
	// DefaultRefreshBuffer is the slack below which scheduling is
	// pointless and the refresh fires immediately instead.
	DefaultRefreshBuffer = 10 * time.Second
	// DefaultRefreshTimeout bounds a timer-initiated refresh call.
	DefaultRefreshTimeout = 30 * time.Second
	// DefaultBroadcastInterval caps token announcements to one per
	// interval; excess announcements are dropped.
	DefaultBroadcastInterval = time.Second
	// DefaultCSRFMaxRetries is the consecutive-429 ceiling after which
	// the CSRF cache degrades to locally generated tokens.
	DefaultCSRFMaxRetries = 3
	// DefaultCSRFBackoffBase seeds the exponential backoff between
	// rate-limited CSRF fetches.
	DefaultCSRFBackoffBase = 500 * time.Millisecond
	// DefaultCSRFMockTTL is how long a locally generated fallback CSRF
	// token is cached.
	DefaultCSRFMockTTL = 24 * time.Hour
)

// Options tune the session manager. The zero value is usable.
type Options struct {
	RefreshThreshold  time.Duration
	RefreshBuffer     time.Duration
	RefreshTimeout    time.Duration
	BroadcastInterval time.Duration
	CSRFMaxRetries    int
	CSRFBackoffBase   time.Duration
	CSRFMockTTL       time.Duration

	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RefreshThreshold <= 0 {
		o.RefreshThreshold = DefaultRefreshThreshold
	}
	if o.RefreshBuffer <= 0 {
		o.RefreshBuffer = DefaultRefreshBuffer
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = DefaultRefreshTimeout
	}
	if o.BroadcastInterval <= 0 {
		o.BroadcastInterval = DefaultBroadcastInterval
	}
	if o.CSRFMaxRetries <= 0 {
		o.CSRFMaxRetries = DefaultCSRFMaxRetries
	}
	if o.CSRFBackoffBase <= 0 {
		o.CSRFBackoffBase = DefaultCSRFBackoffBase
	}
	if o.CSRFMockTTL <= 0 {
		o.CSRFMockTTL = DefaultCSRFMockTTL
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
