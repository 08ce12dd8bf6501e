package session

import "context"

// Store defines the persistent cache of the current conversation.
// A store holds a single record under its configured key.
type Store interface {
	// Load returns the cached record.
	// Returns nil if nothing is cached (not an error).
	// A record older than the expiry window or one that cannot be decoded is
	// purged before Load returns ErrExpired or ErrCorrupt respectively.
	Load(ctx context.Context) (*Record, error)

	// Save stamps the record with the current time and replaces the cached copy.
	Save(ctx context.Context, rec Record) error

	// Purge removes the cached record. Purging an empty slot is not an error.
	Purge(ctx context.Context) error

	// Close closes the store and releases any resources.
	Close() error
}

// backend is the raw key/value slot a driver provides.
// get returns nil bytes when the key is absent.
type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, val []byte) error
	del(ctx context.Context, key string) error
	close() error
}
