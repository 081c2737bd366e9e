// Package jwtx decodes Inkwell access tokens on the client side.
//
// The client never verifies token signatures: the API server is the only
// party that needs to trust the token, and it re-validates every request.
// What the client needs is the embedded expiry (to schedule silent refresh)
// and the subject claims (to render the current user without a network
// call). A token whose expiry cannot be parsed is treated as absent.
package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("jwtx: malformed token")
	ErrNoExpiry  = errors.New("jwtx: missing expiry claim")
)

// Claims are the access-token claims the Inkwell client cares about.
// The server issues more; unknown claims are ignored.
type Claims struct {
	jwt.RegisteredClaims

	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	Admin    bool   `json:"is_admin,omitempty"`
	Verified bool   `json:"is_verified,omitempty"`
	Approved bool   `json:"is_approved,omitempty"`
}

// UserID returns the subject claim, which the server sets to the user ID.
func (c *Claims) UserID() string { return c.Subject }

// ExpiryTime returns the parsed "exp" claim. Decode guarantees it is set.
func (c *Claims) ExpiryTime() time.Time {
	return c.ExpiresAt.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (c *Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt.Time)
}

// Decode parses a raw access token without verifying its signature and
// returns the claims. The "exp" claim is mandatory: the refresh scheduler
// cannot operate on a token with no known expiry, so its absence is an
// error and callers must treat the token as absent.
func Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, ErrMalformed
	}
	if claims.ExpiresAt == nil {
		return nil, ErrNoExpiry
	}
	return claims, nil
}
