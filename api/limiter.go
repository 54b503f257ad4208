package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterSweepPeriod = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per owner. Buckets idle for longer than
// limiterIdleTTL are swept on access, at most once per limiterSweepPeriod.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter allows perMinute requests per owner, with bursts up to the same amount.
// A non-positive rate disables limiting.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	return &Limiter{
		m:     make(map[string]*limiterEntry),
		limit: rate.Limit(float64(perMinute) / 60),
		burst: perMinute,
		ttl:   limiterIdleTTL,
		now:   time.Now,
	}
}

func (l *Limiter) get(owner string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweepPeriod {
		l.sweep(now)
	}
	if e, ok := l.m[owner]; ok {
		e.lastSeen = now
		return e.l
	}
	rl := rate.NewLimiter(l.limit, l.burst)
	l.m[owner] = &limiterEntry{l: rl, lastSeen: now}
	return rl
}

// sweep drops buckets not used within the idle TTL. Callers hold mu.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.ttl)
	for k, e := range l.m {
		if e.lastSeen.Before(cutoff) {
			delete(l.m, k)
		}
	}
	l.lastSweep = now
}

func (l *Limiter) Allow(owner string) bool {
	if l == nil {
		return true
	}
	return l.get(owner).Allow()
}

// Len reports how many owners currently hold a bucket.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
