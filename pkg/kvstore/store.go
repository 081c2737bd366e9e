// Package kvstore provides the small key-value persistence layer backing
// the session client. Two interchangeable backends exist: an in-memory
// store scoped to the process lifetime and a SQLite-backed store that
// survives restarts. Which one holds the access token is a user choice
// ("remember me"), so reads may need to consult both.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// ReadWithFallback reads key from primary and, when absent there, from
// secondary. The returned Store identifies which backend served the value
// so callers can migrate entries between backends; it is nil when the key
// was found in primary or not found at all.
func ReadWithFallback(ctx context.Context, primary, secondary Store, key string) (string, Store, error) {
	value, err := primary.Get(ctx, key)
	if err == nil {
		return value, nil, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}

	value, err = secondary.Get(ctx, key)
	if err != nil {
		return "", nil, err
	}
	return value, secondary, nil
}
