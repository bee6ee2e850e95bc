package retrieval

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneInterval bounds how often idle limiter entries are swept.
const pruneInterval = 10 * time.Minute

// Limiter throttles retrieval calls per caller key (tenant + client address).
// Limiters are created lazily and pruned after an idle period so the map does
// not grow with every one-off visitor.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows requestsPerMin sustained requests with the given burst
// per caller key.
func NewLimiter(requestsPerMin, burst int) *Limiter {
	if requestsPerMin <= 0 {
		requestsPerMin = 30
	}
	if burst <= 0 {
		burst = 10
	}
	return &Limiter{
		entries:   make(map[string]*limiterEntry),
		limit:     rate.Limit(float64(requestsPerMin) / 60.0),
		burst:     burst,
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// Allow reports whether a call for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	if now.Sub(l.lastPrune) > pruneInterval {
		l.pruneLocked(now)
	}

	return e.lim.Allow()
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > pruneInterval {
			delete(l.entries, key)
		}
	}
	l.lastPrune = now
}
