package sessionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// Header names the client manages as defaults on every request.
const (
	headerAuthorization = "Authorization"
	headerCSRFToken     = "X-CSRF-Token"
)

// APIClient is the shared HTTP transport for the Inkwell API. The session
// components attach and detach default headers on it (Authorization,
// X-CSRF-Token) so application code never passes credentials explicitly.
// The refresh token itself travels as an HTTP-only cookie, which is why
// the client always carries a cookie jar.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu             sync.RWMutex
	defaultHeaders map[string]string
	onUnauthorized func()
}

// NewAPIClient creates a client for the API at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	jar, _ := cookiejar.New(nil)
	return &APIClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
		defaultHeaders: make(map[string]string),
	}
}

// SetAuthorization attaches a bearer token as the default Authorization
// header for all subsequent requests.
func (c *APIClient) SetAuthorization(token string) {
	c.setDefaultHeader(headerAuthorization, "Bearer "+token)
}

// ClearAuthorization removes the default Authorization header.
func (c *APIClient) ClearAuthorization() {
	c.clearDefaultHeader(headerAuthorization)
}

// AuthorizationHeader returns the current default Authorization header,
// empty when detached.
func (c *APIClient) AuthorizationHeader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultHeaders[headerAuthorization]
}

// SetCSRFToken attaches the CSRF token as a default header.
func (c *APIClient) SetCSRFToken(token string) {
	c.setDefaultHeader(headerCSRFToken, token)
}

// ClearCSRFToken removes the default CSRF header.
func (c *APIClient) ClearCSRFToken() {
	c.clearDefaultHeader(headerCSRFToken)
}

// CSRFHeader returns the current default X-CSRF-Token header.
func (c *APIClient) CSRFHeader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultHeaders[headerCSRFToken]
}

// SetOnUnauthorized registers a hook invoked whenever a request comes
// back 401 while an Authorization header was attached. The manager uses
// it to kick off a silent refresh.
func (c *APIClient) SetOnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *APIClient) setDefaultHeader(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultHeaders[name] = value
}

func (c *APIClient) clearDefaultHeader(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.defaultHeaders, name)
}

// Login posts credentials and returns the issued token and profile.
func (c *APIClient) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	var resp TokenResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout tells the server to revoke the refresh-token cookie.
func (c *APIClient) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Refresh exchanges the refresh-token cookie for a new access token.
func (c *APIClient) Refresh(ctx context.Context) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh-token", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CSRFToken fetches a fresh CSRF token with its advised cache lifetime.
func (c *APIClient) CSRFToken(ctx context.Context) (*csrfTokenResponse, error) {
	var resp csrfTokenResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/csrf-token", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile fetches the authenticated user's profile.
func (c *APIClient) Profile(ctx context.Context) (*UserProfile, error) {
	var resp UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/user-profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON performs a request with the default headers attached, encoding
// body (when non-nil) and decoding the response (when target is non-nil)
// as JSON. Non-2xx responses become *APIError.
func (c *APIClient) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	hadAuth := c.defaultHeaders[headerAuthorization] != ""
	for name, value := range c.defaultHeaders {
		req.Header.Set(name, value)
	}
	hook := c.onUnauthorized
	c.mu.RUnlock()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && hadAuth && hook != nil {
		hook()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseErrorResponse turns a non-2xx response into an *APIError. Bodies
// that are not the standard envelope still produce a usable error.
func parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, apiErr)
	}
	if apiErr.Code == "" {
		apiErr.Code = ErrorCodeServerError
		apiErr.Description = strings.TrimSpace(string(raw))
	}
	return apiErr
}
