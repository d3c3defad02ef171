package broker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter throttles login and connect requests per remote IP
type ipLimiter struct {
	enabled  bool
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
	mu       sync.Mutex
}

func newIPLimiter(enabled bool, perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		enabled:  enabled,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow reports whether one more request from ip is within the limit
func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return true
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// Update replaces the limits. Existing per-IP state is dropped.
func (l *ipLimiter) Update(enabled bool, perSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = enabled
	l.limit = rate.Limit(perSecond)
	l.burst = burst
	l.limiters = make(map[string]*limiterEntry)
}

// Cleanup forgets IPs idle for longer than idle
func (l *ipLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-idle)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}
