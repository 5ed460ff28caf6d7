package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a per-identity sliding window: at most maxRequests
// admissions within any trailing window. Windows are independent across
// identities. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	windows     map[string][]time.Time
	now         func() time.Time
}

func New(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		windows:     make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Admit checks the sliding window for the identity and, if allowed, records
// the admission. A rejected request records nothing. retryAfter is the time
// until the oldest in-window admission expires, zero when allowed.
func (l *Limiter) Admit(identity string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := l.prune(identity, now)

	if len(ts) < l.maxRequests {
		l.windows[identity] = append(ts, now)
		return true, 0
	}

	retryAfter := l.window - now.Sub(ts[0])
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// prune drops timestamps strictly older than the window (half-open: a
// timestamp exactly window old is still live) and removes drained identities.
func (l *Limiter) prune(identity string, now time.Time) []time.Time {
	ts := l.windows[identity]
	i := 0
	for i < len(ts) && now.Sub(ts[i]) > l.window {
		i++
	}
	if i > 0 {
		ts = ts[i:]
		if len(ts) == 0 {
			delete(l.windows, identity)
			return nil
		}
		l.windows[identity] = ts
	}
	return ts
}

// Occupancy reports the number of in-window admissions per identity.
// Identities whose windows have fully drained are omitted.
func (l *Limiter) Occupancy() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string]int, len(l.windows))
	for id := range l.windows {
		if ts := l.prune(id, now); len(ts) > 0 {
			out[id] = len(ts)
		}
	}
	return out
}

// Reset clears the window for an identity (admin override).
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identity)
}
