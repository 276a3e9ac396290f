// Package publish delivers alerts to social, webhook, queue and stream channels.
package publish

import (
	"context"
	"sync"
	"time"

	"github.com/whalewatch/engine/internal/store"
)

// Default social posting quota.
const (
	DefaultRateLimit  = 5
	DefaultRateWindow = 60 * time.Second
)

// Limiter admits at most limit callers within any rolling window. Waiters
// are served in arrival order: only the head of the queue holds the turn
// token, the rest block on the channel receive, which the runtime serves
// FIFO.
type Limiter struct {
	limit  int
	window time.Duration
	turn   chan struct{}

	mu     sync.Mutex
	stamps []time.Time
}

// NewLimiter creates a limiter allowing limit admissions per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		turn:   make(chan struct{}, 1),
		stamps: make([]time.Time, 0, limit),
	}
	l.turn <- struct{}{}
	return l
}

// Wait blocks until a slot is free or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	select {
	case <-l.turn:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { l.turn <- struct{}{} }()

	for {
		wait := l.reserve(time.Now())
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records an admission and returns 0, or returns how long until the
// oldest admission leaves the window.
func (l *Limiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0
	}
	wait := l.stamps[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// prune drops admissions outside the window. Must be called with lock held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// InWindow returns the number of admissions inside the current window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.stamps)
}

type rateLimited struct {
	Publisher
	limiter *Limiter
}

// RateLimited wraps p so every publish first waits on l.
func RateLimited(p Publisher, l *Limiter) Publisher {
	return rateLimited{Publisher: p, limiter: l}
}

func (r rateLimited) Publish(ctx context.Context, a store.Alert) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Publisher.Publish(ctx, a)
}
