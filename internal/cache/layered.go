package cache

import (
	"errors"
	"io"
	"time"
)

// LayeredCache implements a two-layer cache (memory + persistent)
type LayeredCache struct {
	memory     Cache
	persistent Cache
}

// NewLayeredCache stacks memory in front of a persistent store
func NewLayeredCache(memory, persistent Cache) *LayeredCache {
	return &LayeredCache{
		memory:     memory,
		persistent: persistent,
	}
}

// Get retrieves a value (checks memory first, then the persistent layer)
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.persistent.Get(key); found {
		// Promote with the memory default TTL; namespaces re-check their own expiry
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set stores a value in both layers
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.persistent.Set(key, value, ttl)
}

// Delete removes a value from both layers
func (c *LayeredCache) Delete(key string) error {
	return errors.Join(c.memory.Delete(key), c.persistent.Delete(key))
}

// DeletePrefix removes matching keys from both layers
func (c *LayeredCache) DeletePrefix(prefix string) error {
	return errors.Join(c.memory.DeletePrefix(prefix), c.persistent.DeletePrefix(prefix))
}

// Clear removes all values from both layers
func (c *LayeredCache) Clear() error {
	return errors.Join(c.memory.Clear(), c.persistent.Clear())
}

// Close closes whichever layers hold resources
func (c *LayeredCache) Close() error {
	var errs []error
	for _, layer := range []Cache{c.memory, c.persistent} {
		if cl, ok := layer.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}
