// Package store persists the session token and the last known profile as
// named string fields.
package store

import (
	"context"
)

// Store is a durable key/value field store. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetField retrieves a field. Returns the value, whether it was found, and
	// any error.
	GetField(ctx context.Context, key string) (string, bool, error)

	// SetField stores a field, replacing any previous value.
	SetField(ctx context.Context, key, value string) error

	// ClearAll removes every field.
	ClearAll(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
