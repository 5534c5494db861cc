package service

import (
	"sync"
	"time"

	"github.com/askmygarmin/backend/core"
)

// LoginLimiter is a per-origin sliding-window throttle on the login entry
// point. MFA submission is not limited: it is tied to an attempt that
// already passed this gate. Windows are pruned lazily and never destroyed,
// an acceptable bounded-growth tradeoff for a single-process deployment.
type LoginLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	attempts map[string][]time.Time

	now func() time.Time
}

// NewLoginLimiter returns the production limiter: 5 attempts per origin in
// a trailing 15 minutes.
func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{
		window:   900 * time.Second,
		limit:    5,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Check records an attempt for key, unless the window is already full, in
// which case it rejects without recording.
func (l *LoginLimiter) Check(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.attempts[key] = kept
		return core.ErrRateLimited
	}

	l.attempts[key] = append(kept, now)
	return nil
}
