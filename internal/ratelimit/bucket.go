package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a snapshot of one bucket's state.
type Bucket struct {
	Key       string
	Capacity  int
	Remaining int
	Window    time.Duration
	ResetAt   time.Time
}

// bucket allows at most capacity permits per window.
//
// Waiters queue on turn, a one-slot channel: blocked channel senders are
// served in arrival order, so every waiter eventually acquires.
type bucket struct {
	key  string
	turn chan struct{}
	now  func() time.Time

	users int // guarded by the Limiter's mu

	mu        sync.Mutex
	capacity  int
	remaining int
	window    time.Duration
	resetAt   time.Time
}

func newBucket(key string, p Policy, now func() time.Time) *bucket {
	return &bucket{
		key:       key,
		turn:      make(chan struct{}, 1),
		now:       now,
		capacity:  p.Capacity,
		remaining: p.Capacity,
		window:    p.Window,
	}
}

// acquire blocks until a permit is taken or ctx is done.
// It returns true when the caller had to wait.
func (b *bucket) acquire(ctx context.Context) (bool, error) {
	select {
	case b.turn <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-b.turn }()

	waited := false
	for {
		wait := b.take()
		if wait <= 0 {
			return waited, nil
		}
		waited = true

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
		}
	}
}

// take consumes a permit and returns 0, or returns how long to wait for the
// next reset.
func (b *bucket) take() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refill(now)

	if b.resetAt.IsZero() {
		b.resetAt = now.Add(b.window)
	}
	if b.remaining > 0 {
		b.remaining--
		return 0
	}
	return b.resetAt.Sub(now)
}

// refill restores full capacity once the reset time has passed. Must hold mu.
func (b *bucket) refill(now time.Time) {
	if !b.resetAt.IsZero() && !now.Before(b.resetAt) {
		b.remaining = b.capacity
		b.resetAt = time.Time{}
	}
}

func (b *bucket) update(l Limits) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if l.Limit > 0 {
		b.capacity = l.Limit
	}
	if l.ResetAfter > 0 {
		b.window = max(b.window, l.ResetAfter)
		b.resetAt = now.Add(l.ResetAfter)
	}
	if l.Remaining >= 0 {
		b.remaining = l.Remaining
	}
	if b.remaining > b.capacity {
		b.remaining = b.capacity
	}
}

func (b *bucket) lock(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.remaining = 0
	if until.After(b.resetAt) {
		b.resetAt = until
	}
}

// idle reports whether the bucket has no pending reset at now.
func (b *bucket) idle(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetAt.IsZero() || !now.Before(b.resetAt)
}

func (b *bucket) snapshot() Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	return Bucket{
		Key:       b.key,
		Capacity:  b.capacity,
		Remaining: b.remaining,
		Window:    b.window,
		ResetAt:   b.resetAt,
	}
}
