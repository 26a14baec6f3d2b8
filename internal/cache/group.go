package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/metrics"
)

// Group coalesces concurrent computations of the same key
//
// The computation runs on a context detached from the first caller, bounded by
// timeout, so it keeps going and can populate the cache after every waiting
// caller has given up. Callers stop waiting as soon as their own ctx is done.
type Group[T any] struct {
	name    string
	sf      singleflight.Group
	timeout time.Duration
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]int
}

// NewGroup creates a coalescing group; timeout <= 0 leaves the work unbounded
func NewGroup[T any](name string, timeout time.Duration, m *metrics.Metrics) *Group[T] {
	return &Group[T]{name: name, timeout: timeout, metrics: m, inflight: make(map[string]int)}
}

// Do runs fn once per key among concurrent callers and hands every caller the result
// shared reports whether the result went to more than one caller
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (val T, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (result any, err error) {
		g.track(key, 1)
		defer g.track(key, -1)

		fctx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, g.timeout)
			defer cancel()
		}
		defer func() {
			if r := recover(); r != nil {
				err = perr.PanicErrf("%s computation panicked: %v", g.name, r)
			}
		}()
		return fn(fctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			g.metrics.Coalesced(g.name)
		}
		if res.Err != nil {
			return val, res.Shared, res.Err
		}
		v, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return val, res.Shared, perr.Internalf("%s flight returned %T", g.name, res.Val)
		}
		return v, res.Shared, nil
	case <-ctx.Done():
		return val, false, perr.Wrap(ctx.Err(), perr.ErrorCodeTimeout, fmt.Sprintf("deadline exceeded waiting for %s", g.name))
	}
}

// Forget drops an in-flight key so the next caller starts a fresh computation
// Callers already waiting still get the running computation's result
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}

// ForgetAll detaches every running computation from its key
func (g *Group[T]) ForgetAll() int {
	g.mu.Lock()
	keys := make([]string, 0, len(g.inflight))
	for k := range g.inflight {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	for _, k := range keys {
		g.Forget(k)
	}
	return len(keys)
}

// InFlight returns the number of running computations
func (g *Group[T]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func (g *Group[T]) track(key string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.inflight[key] + delta; n > 0 {
		g.inflight[key] = n
	} else {
		delete(g.inflight, key)
	}
}
