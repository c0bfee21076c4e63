package persist

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Suffix is appended to every storage id to namespace state entries.
const Suffix = "-statestore"

// Backend is a handle on a shared key-value space.
type Backend interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key and notifies watchers on other handles.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key and notifies watchers on other handles.
	// Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Watch calls fn for every change to key made through another handle.
	// fn runs on a backend goroutine and must not block. The returned
	// cancel func is idempotent.
	Watch(key string, fn func(Change)) (cancel func(), err error)

	// Close releases the handle.
	Close() error
}

// Change describes a write observed on a shared space.
type Change struct {
	Key      string
	NewValue []byte // nil when Removed
	Removed  bool
	Origin   string // id of the handle that made the change
}

// Key returns the namespaced storage key for a storage id.
// Ids are NFC-normalised so that visually identical ids share one entry.
func Key(storageID string) string {
	return norm.NFC.String(storageID) + Suffix
}

// newOrigin returns a time-sortable handle id.
func newOrigin() string {
	return uuid.Must(uuid.NewV7()).String()
}
