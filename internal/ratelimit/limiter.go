// Package ratelimit admits requests per client tier against a shared backend budget
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	perr "github.com/ppiankov/verity/internal/errors"
	"github.com/ppiankov/verity/internal/logger"
	"github.com/ppiankov/verity/internal/metrics"
	"github.com/ppiankov/verity/internal/model"
)

// Tier groups clients that share limits
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
)

// Client identifies the caller of one request
type Client struct {
	ID   string
	Tier Tier
}

// Decision is the outcome of Allow
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Tier       Tier
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// Limiter implements per-client token buckets in front of a global bucket
type Limiter struct {
	enabled bool
	tiers   map[Tier]model.TierConfig
	keys    map[string]bool
	idle    time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket

	gmu     sync.Mutex
	global  *rate.Limiter // nil when the global budget is unlimited
	reserve float64
}

// New creates a limiter from config
func New(cfg model.RateLimitConfig, m *metrics.Metrics) *Limiter {
	l := &Limiter{
		enabled: cfg.Enabled,
		tiers: map[Tier]model.TierConfig{
			TierAnonymous:     withDefaults(cfg.Anonymous, 0.5, 5),
			TierAuthenticated: withDefaults(cfg.Authenticated, 5, 20),
		},
		keys:    make(map[string]bool, len(cfg.APIKeys)),
		idle:    cfg.IdleTTL,
		metrics: m,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		reserve: float64(max(cfg.Reserve, 0)),
	}
	for _, k := range cfg.APIKeys {
		if k != "" {
			l.keys[k] = true
		}
	}
	if cfg.Global.Rate > 0 {
		burst := cfg.Global.Burst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.Global.Rate))
		}
		l.global = rate.NewLimiter(rate.Limit(cfg.Global.Rate), burst)
	}
	if l.idle <= 0 {
		l.idle = 10 * time.Minute
	}
	return l
}

func withDefaults(t model.TierConfig, r float64, burst int) model.TierConfig {
	if t.Rate <= 0 {
		t.Rate = r
	}
	if t.Burst <= 0 {
		t.Burst = burst
	}
	return t
}

// Identify maps an API key and remote address to a client
// A key outside the configured set is rejected rather than demoted
func (l *Limiter) Identify(apiKey, remoteAddr string) (Client, error) {
	if apiKey == "" {
		return Client{ID: "ip:" + remoteAddr, Tier: TierAnonymous}, nil
	}
	if !l.keys[apiKey] {
		return Client{}, perr.Unauthorizedf("unknown API key")
	}
	sum := sha256.Sum256([]byte(apiKey))
	return Client{ID: "key:" + hex.EncodeToString(sum[:6]), Tier: TierAuthenticated}, nil
}

// Allow takes one token from the client bucket and one from the global bucket
// A rejected request consumes nothing
func (l *Limiter) Allow(c Client) Decision {
	if !l.enabled {
		return Decision{Allowed: true, Tier: c.Tier}
	}
	now := l.now()

	client := l.bucket(c, now).ReserveN(now, 1)
	if wait := client.DelayFrom(now); !client.OK() || wait > 0 {
		client.CancelAt(now)
		return l.reject(c, wait)
	}

	if wait, ok := l.takeGlobal(c.Tier, now); !ok {
		client.CancelAt(now)
		return l.reject(c, wait)
	}
	return Decision{Allowed: true, Tier: c.Tier}
}

// takeGlobal spends one shared token; anonymous callers must leave the reserve untouched
func (l *Limiter) takeGlobal(tier Tier, now time.Time) (time.Duration, bool) {
	if l.global == nil {
		return 0, true
	}
	l.gmu.Lock()
	defer l.gmu.Unlock()

	if tier != TierAuthenticated && l.reserve > 0 {
		need := l.reserve + 1
		if tokens := l.global.TokensAt(now); tokens < need {
			return tokenWait(need-tokens, float64(l.global.Limit())), false
		}
	}
	r := l.global.ReserveN(now, 1)
	if wait := r.DelayFrom(now); !r.OK() || wait > 0 {
		r.CancelAt(now)
		return wait, false
	}
	return 0, true
}

func tokenWait(missing, perSecond float64) time.Duration {
	if perSecond <= 0 {
		return time.Second
	}
	return time.Duration(missing / perSecond * float64(time.Second))
}

func (l *Limiter) reject(c Client, wait time.Duration) Decision {
	wait = min(max(wait, time.Second), time.Minute)
	l.metrics.RateLimited(string(c.Tier))
	return Decision{Allowed: false, RetryAfter: wait.Round(time.Second), Tier: c.Tier}
}

// bucket returns the client limiter, creating it on first use
func (l *Limiter) bucket(c Client, now time.Time) *rate.Limiter {
	key := string(c.Tier) + "|" + c.ID

	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		b.lastSeen.Store(now.UnixNano())
		return b.lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok := l.buckets[key]; ok {
		b.lastSeen.Store(now.UnixNano())
		return b.lim
	}
	tier, ok := l.tiers[c.Tier]
	if !ok {
		tier = l.tiers[TierAnonymous]
	}
	b = &bucket{lim: rate.NewLimiter(rate.Limit(tier.Rate), tier.Burst)}
	b.lastSeen.Store(now.UnixNano())
	l.buckets[key] = b
	return b.lim
}

// Prune drops buckets idle for longer than the idle TTL; a dropped client starts with a full burst
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if now.Sub(time.Unix(0, b.lastSeen.Load())) > l.idle {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Run prunes idle buckets until ctx is done
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(l.now()); n > 0 {
				logger.Named("ratelimit").Debug().Int("pruned", n).Msg("idle clients dropped")
			}
		}
	}
}
