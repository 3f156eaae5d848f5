package source

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	slowFactor  = 3
	maxDelay    = 60 * time.Second
	resetStreak = 3
)

// Throttle enforces a minimum delay between requests to one source.
// An explicit rate-limit signal multiplies the delay; a run of consecutive
// successes restores the configured minimum. Each adapter owns one Throttle
// and serializes its calls through it.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    time.Duration
	delay   time.Duration
	streak  int
}

// NewThrottle creates a throttle with the given minimum inter-request delay.
func NewThrottle(min time.Duration) *Throttle {
	if min <= 0 {
		min = time.Second
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Every(min), 1),
		base:    min,
		delay:   min,
	}
}

// Wait blocks until the next request is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	l := t.limiter
	t.mu.Unlock()
	return l.Wait(ctx)
}

// Slow reacts to a rate-limit signal by multiplying the delay, capped at
// maxDelay.
func (t *Throttle) Slow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streak = 0
	next := t.delay * slowFactor
	if next > maxDelay {
		next = maxDelay
	}
	if next != t.delay {
		t.delay = next
		t.limiter.SetLimit(rate.Every(next))
	}
}

// Success records a successful call. After resetStreak consecutive
// successes the delay drops back to the configured minimum.
func (t *Throttle) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delay == t.base {
		return
	}
	t.streak++
	if t.streak >= resetStreak {
		t.streak = 0
		t.delay = t.base
		t.limiter.SetLimit(rate.Every(t.base))
	}
}

// Delay returns the current inter-request delay.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}
