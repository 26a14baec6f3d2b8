package cache

import (
	"encoding/json"
	"time"

	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
)

type entry[T any] struct {
	Value   T             `json:"value"`
	Created time.Time     `json:"created"`
	TTL     time.Duration `json:"ttl"`
}

// Namespace is a typed view over a Cache with its own key prefix and TTL
// Expiry is checked against the namespace clock on every read, so an entry
// created at T is a miss at any time >= T+TTL whatever the store's sweep does
type Namespace[T any] struct {
	name    string
	store   Cache
	ttl     time.Duration
	now     Clock
	metrics *metrics.Metrics
}

// NewNamespace creates a typed namespace; a nil clock means time.Now
func NewNamespace[T any](name string, store Cache, ttl time.Duration, now Clock, m *metrics.Metrics) *Namespace[T] {
	if now == nil {
		now = time.Now
	}
	return &Namespace[T]{name: name, store: store, ttl: ttl, now: now, metrics: m}
}

// Name returns the namespace label
func (n *Namespace[T]) Name() string { return n.name }

// TTL returns the entry lifetime
func (n *Namespace[T]) TTL() time.Duration { return n.ttl }

func (n *Namespace[T]) key(k string) string { return n.name + ":" + k }

// Get returns the live value for k
func (n *Namespace[T]) Get(k string) (T, bool) {
	var zero T
	raw, ok := n.store.Get(n.key(k))
	if !ok {
		n.metrics.CacheMiss(n.name)
		return zero, false
	}

	var e entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		logger.Named("cache").Warn().Err(err).Str("namespace", n.name).Msg("dropping undecodable entry")
		_ = n.store.Delete(n.key(k))
		n.metrics.CacheMiss(n.name)
		return zero, false
	}
	if !n.now().Before(e.Created.Add(e.TTL)) {
		_ = n.store.Delete(n.key(k))
		n.metrics.CacheMiss(n.name)
		return zero, false
	}

	n.metrics.CacheHit(n.name)
	return e.Value, true
}

// Set stores v under k with the namespace TTL
func (n *Namespace[T]) Set(k string, v T) error {
	data, err := json.Marshal(entry[T]{Value: v, Created: n.now(), TTL: n.ttl})
	if err != nil {
		return err
	}
	return n.store.Set(n.key(k), data, n.ttl)
}

// Delete removes k
func (n *Namespace[T]) Delete(k string) error {
	return n.store.Delete(n.key(k))
}

// Clear removes every entry of this namespace only
func (n *Namespace[T]) Clear() error {
	return n.store.DeletePrefix(n.name + ":")
}
