package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	Attempts int           // total tries including the first
	Base     time.Duration // delay before the second try
	Cap      time.Duration // upper bound on any single delay
	Jitter   float64       // +/- fraction applied to each delay
	// Retryable decides whether an error is worth another try. Defaults to
	// IsTransient.
	Retryable func(error) bool
}

// DefaultBackoff tries three times starting at 500ms.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Base: 500 * time.Millisecond, Cap: 30 * time.Second, Jitter: 0.25}
}

func (b Backoff) normalized() Backoff {
	def := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = def.Attempts
	}
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Cap < b.Base {
		b.Cap = max(def.Cap, b.Base)
	}
	b.Jitter = min(max(b.Jitter, 0), 1)
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// Delay returns the pause before try n+1 (n counts from 1).
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalized()
	d := b.Base
	for i := 1; i < n && d < b.Cap; i++ {
		d *= 2
	}
	d = min(d, b.Cap)
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return max(d, 0)
}

// Retry runs fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends. label names the operation in log lines.
func Retry[T any](ctx context.Context, b Backoff, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()
	var (
		zero T
		err  error
	)
	for n := 1; ; n++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if n >= b.Attempts || !b.Retryable(err) || ctx.Err() != nil {
			return zero, err
		}

		wait := b.Delay(n)
		zap.L().Warn("resilience: retrying",
			zap.String("op", label),
			zap.Int("attempt", n),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}

// Do is Retry for functions without a result.
func Do(ctx context.Context, b Backoff, label string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, b, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Guard combines a breaker and a retry schedule for one collaborator. Each
// try passes through the breaker, so an opened breaker ends the retry loop.
type Guard struct {
	Breaker *Breaker
	Backoff Backoff
}

// NewGuard builds a Guard from config-style values: attempts, base delay in
// milliseconds, breaker threshold and cooldown in seconds. Zero values fall
// back to defaults.
func NewGuard(name string, attempts, baseMillis, threshold, cooldownSecs int) *Guard {
	b := DefaultBackoff()
	if attempts > 0 {
		b.Attempts = attempts
	}
	if baseMillis > 0 {
		b.Base = time.Duration(baseMillis) * time.Millisecond
	}
	cfg := DefaultBreakerConfig()
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return &Guard{Breaker: NewBreaker(name, cfg), Backoff: b}
}

// Run executes fn under g. A nil Guard calls fn once.
func Run[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	return Retry(ctx, g.Backoff, g.Breaker.Name(), func(ctx context.Context) (T, error) {
		return Call(ctx, g.Breaker, fn)
	})
}
