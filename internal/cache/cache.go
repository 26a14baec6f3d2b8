// Package cache provides TTL stores, typed namespaces and request coalescing
// for the embedding, search and verdict stages
package cache

import "time"

// Cache defines the byte-level store every namespace sits on
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	DeletePrefix(prefix string) error
	Clear() error
}

// Clock returns the current time; swapped in tests to check expiry
type Clock func() time.Time
