// Package ratelimit throttles actions with keyed window buckets.
//
// A bucket grants at most Capacity permits per Window. Buckets are created
// lazily on first use and refill to full capacity once their reset time has
// passed. Callers that find a bucket empty wait for the reset; waiting never
// blocks callers of other buckets. Buckets that are full again and unused
// are dropped periodically.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Policy configures the capacity and window of a bucket.
type Policy struct {
	Capacity int
	Window   time.Duration
}

// Limits is a correction reported by the remote side, usually from response
// headers. A negative Remaining means unknown; zero Limit and ResetAfter are
// ignored.
type Limits struct {
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

var ErrInvalidPolicy = errors.New("ratelimit: capacity and window must be positive")

// Default policy applied to keys without an explicit policy.
var DefaultPolicy = Policy{Capacity: 5, Window: 5 * time.Second}

// IdentifyPolicy is the remote limit on session starts per concurrency slot.
var IdentifyPolicy = Policy{Capacity: 1, Window: 5 * time.Second}

// DefaultSweepInterval is how often idle buckets are dropped.
const DefaultSweepInterval = time.Minute

// Option configures a Limiter.
type Option func(*Limiter)

// WithDefault sets the policy used for keys without an explicit policy.
func WithDefault(p Policy) Option {
	return func(l *Limiter) { l.defaults = p }
}

// WithPolicy sets the policy of keys starting with prefix.
func WithPolicy(prefix string, p Policy) Option {
	return func(l *Limiter) { l.policies[prefix] = p }
}

// WithIdentifyPolicy sets the policy of identify buckets.
func WithIdentifyPolicy(p Policy) Option {
	return WithPolicy(identifyPrefix, p)
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSweepInterval sets how often idle buckets are dropped.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepEvery = d }
}

// WithWaitObserver registers a callback invoked each time a caller had to
// wait for a bucket.
func WithWaitObserver(fn func(key string)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// Limiter holds the buckets. It is safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	policies   map[string]Policy
	defaults   Policy
	now        func() time.Time
	onWait     func(key string)
	sweepEvery time.Duration
	swept      time.Time
}

// New creates a Limiter.
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		policies:   map[string]Policy{identifyPrefix: IdentifyPolicy},
		defaults:   DefaultPolicy,
		now:        time.Now,
		sweepEvery: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweepEvery <= 0 {
		return nil, fmt.Errorf("ratelimit: sweep interval must be positive: %v", l.sweepEvery)
	}
	l.swept = l.now()

	if err := l.defaults.validate(); err != nil {
		return nil, err
	}
	for prefix, p := range l.policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", prefix, err)
		}
	}
	return l, nil
}

func (p Policy) validate() error {
	if p.Capacity <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Acquire suspends the caller until a permit for key is available and takes
// it. It returns ctx.Err() if the context ends first; no permit is taken then.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	b := l.bucket(key)
	defer l.release(b)

	waited, err := b.acquire(ctx)
	if waited && l.onWait != nil {
		l.onWait(key)
	}
	return err
}

// Update applies limits reported by the remote side to key's bucket.
func (l *Limiter) Update(key string, limits Limits) {
	b := l.bucket(key)
	defer l.release(b)
	b.update(limits)
}

// Lock empties key's bucket until the given time.
func (l *Limiter) Lock(key string, until time.Time) {
	b := l.bucket(key)
	defer l.release(b)
	b.lock(until)
}

// Snapshot returns the state of key's bucket, or false if it was never used.
func (l *Limiter) Snapshot(key string) (Bucket, bool) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return Bucket{}, false
	}
	return b.snapshot(), true
}

// bucket returns key's bucket marked as in use. Callers must release it.
func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now := l.now(); now.Sub(l.swept) >= l.sweepEvery {
		l.sweep(now)
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(key, l.policyFor(key), l.now)
		l.buckets[key] = b
	}
	b.users++
	return b
}

func (l *Limiter) release(b *bucket) {
	l.mu.Lock()
	b.users--
	l.mu.Unlock()
}

// sweep drops buckets nobody uses whose reset time has passed. Must hold mu.
func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if b.users == 0 && b.idle(now) {
			delete(l.buckets, key)
		}
	}
}

// policyFor picks the policy with the longest matching prefix. Must hold mu.
func (l *Limiter) policyFor(key string) Policy {
	best, bestLen := l.defaults, -1
	for prefix, p := range l.policies {
		if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}
