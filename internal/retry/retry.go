// Package retry provides exponential backoff for reconnects and REST retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Jitter returns a random duration in [0, d).
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	return time.Duration(randSource.Int63n(int64(d)))
}

// Between returns a random duration in [lo, hi).
func Between(lo, hi time.Duration) time.Duration {
	return lo + Jitter(hi-lo)
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do stops retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Config configures exponential backoff.
type Config struct {
	MaxAttempts  int           // 0: unbounded Backoff, a single try for Do
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on a single delay
	Multiplier   float64       // growth per attempt, typically 2
	AddJitter    bool          // add up to 25% random delay
}

// DefaultConfig is used for REST 5xx retries.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Reconnect is used between gateway connection attempts.
func Reconnect() Config {
	return Config{
		MaxAttempts:  0,
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: delays and multiplier cannot be negative")
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// Backoff hands out successive delays. It is not safe for concurrent use.
type Backoff struct {
	cfg     Config
	attempt int
	delay   time.Duration
}

// NewBackoff creates a Backoff from cfg.
func NewBackoff(cfg Config) (*Backoff, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}, nil
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }

// Next returns the next delay, or false once MaxAttempts delays were used.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}
	b.attempt++

	d := b.delay
	if b.cfg.AddJitter {
		d += Jitter(d / 4)
	}

	next := float64(b.delay) * b.cfg.Multiplier
	if next > float64(b.cfg.MaxDelay) {
		b.delay = b.cfg.MaxDelay
	} else {
		b.delay = time.Duration(next)
	}
	return d, true
}

// Reset starts over from InitialDelay.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.delay = b.cfg.InitialDelay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a permanent error, ctx ends or
// attempts run out. MaxAttempts of 0 runs fn once.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	backoff, err := NewBackoff(cfg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay, _ := backoff.Next()
		if err := Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for functions returning a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
