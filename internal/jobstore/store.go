// Package jobstore is the durable key-value store holding job descriptors and
// short-lived locks. Values are JSON encoded and every key carries a TTL.
package jobstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("jobstore: key not found")

type Store interface {
	// Get decodes the value stored under key into dst.
	Get(ctx context.Context, key string, dst interface{}) error
	// Set stores value under key, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX stores value only if key is absent or expired. It reports
	// whether the value was written.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
