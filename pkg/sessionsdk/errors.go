package sessionsdk

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes the Inkwell API returns in its JSON error envelope.
const (
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeAccountNotFound    = "account_not_found"
	ErrorCodeCSRFMismatch       = "csrf_mismatch"
	ErrorCodeRateLimited        = "rate_limited"
	ErrorCodeServerError        = "server_error"
)

// Sentinel errors for caller-facing classification. They exist so UI code
// can pick a message with errors.Is instead of matching status codes; the
// underlying *APIError stays in the chain for detail.
var (
	ErrInvalidCredentials = errors.New("sessionsdk: invalid email or password")
	ErrAccountNotFound    = errors.New("sessionsdk: account is not registered")
	ErrCSRFRejected       = errors.New("sessionsdk: request rejected by csrf protection")
	ErrNotAuthenticated   = errors.New("sessionsdk: not authenticated")
)

// APIError is the Inkwell API's JSON error envelope plus the HTTP status
// it arrived with.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("sessionsdk: api error %d (%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// IsRateLimited reports whether err is an HTTP 429 from the API.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// isCSRFRejection reports whether err is worth one CSRF-refresh-and-retry
// during login: an explicit CSRF mismatch or a rate-limit response.
func isCSRFRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return apiErr.StatusCode == http.StatusForbidden && apiErr.Code == ErrorCodeCSRFMismatch
}

// classifyLoginError maps an API error onto the caller-facing sentinels.
// The classification drives UI messaging only; callers that need the raw
// response still reach the *APIError through errors.As.
func classifyLoginError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == ErrorCodeAccountNotFound:
		return fmt.Errorf("%w: %w", ErrAccountNotFound, err)
	case apiErr.Code == ErrorCodeInvalidCredentials, apiErr.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	case isCSRFRejection(err):
		return fmt.Errorf("%w: %w", ErrCSRFRejected, err)
	default:
		return err
	}
}
