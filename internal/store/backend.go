package store

import (
	"context"
	"errors"
)

// ErrUnknownDriver is returned by Open for a driver nobody registered.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Backend is a flat string key-value store. Values are JSON documents.
type Backend interface {
	// Get returns the present keys only.
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	// Set writes all values in one transaction.
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	// Take reads and deletes keys in one transaction. Of two concurrent
	// callers, at most one sees any given value.
	Take(ctx context.Context, keys ...string) (map[string]string, error)
	Close() error
}
