package cache

import (
	"context"
	"time"
)

// Cache defines the manifest store interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent stores value only when key is absent and reports whether it
	// was stored. It is the sole primitive guaranteeing at most one in-flight
	// build per fingerprint.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// ManifestKey builds the cache key for a search fingerprint.
func ManifestKey(fingerprint string) string {
	return "manifest:" + fingerprint
}
