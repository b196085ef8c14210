package auth

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a caller may issue another request.
type Limiter interface {
	Allow(ctx context.Context, c *Caller) error
}

// WindowLimiter counts requests per caller over fixed one-minute windows,
// with a per-tier request budget. It keeps all state in process memory;
// one gateway instance enforces its own budget only.
type WindowLimiter struct {
	perTier  map[string]int
	fallback int

	mu      sync.Mutex
	windows map[string]*window
	sweeps  int
}

type window struct {
	opened time.Time
	used   int
}

// NewWindowLimiter creates a limiter. perTier maps tier names to
// requests-per-minute budgets; fallback applies to unknown tiers.
// A budget of zero or less means unlimited.
func NewWindowLimiter(perTier map[string]int, fallback int) *WindowLimiter {
	return &WindowLimiter{
		perTier:  perTier,
		fallback: fallback,
		windows:  make(map[string]*window),
	}
}

// Allow consumes one request from the caller's current window.
// Returns ErrRateLimited when the window's budget is exhausted.
func (l *WindowLimiter) Allow(_ context.Context, c *Caller) error {
	tier := c.Tier
	if tier == "" {
		tier = "default"
	}
	budget, ok := l.perTier[tier]
	if !ok {
		budget = l.fallback
	}
	if budget <= 0 {
		return nil
	}

	key := c.Subject + "\x00" + tier
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || now.Sub(w.opened) >= time.Minute {
		l.windows[key] = &window{opened: now, used: 1}
		l.sweep(now)
		return nil
	}

	w.used++
	if w.used > budget {
		return ErrRateLimited
	}
	return nil
}

// sweep drops expired windows so the map does not grow with the number
// of distinct callers ever seen. Runs every 256th window rollover, under
// the lock already held by Allow.
func (l *WindowLimiter) sweep(now time.Time) {
	l.sweeps++
	if l.sweeps%256 != 0 {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.opened) >= time.Minute {
			delete(l.windows, k)
		}
	}
}
