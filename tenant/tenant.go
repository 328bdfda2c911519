// Package tenant tracks per-owner claim rate limits and recent
// admission activity. Both are process-local: rate limiting bounds the
// database load one noisy tenant can generate against a single
// control-plane process, and activity drives the hot/cold long-poll
// cadence.
package tenant

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a per-owner claim rate. Each owner gets an
// independent token bucket, created on first use.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a per-owner limiter allowing claimsPerSecond
// sustained claim polls with the given burst.
func NewLimiter(claimsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		limit:   rate.Limit(claimsPerSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// AllowClaim reports whether the owner may issue a claim poll now.
// Denied polls are not queued; the caller sleeps its poll interval and
// tries again.
func (l *Limiter) AllowClaim(ownerHash string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[ownerHash]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[ownerHash] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Activity records the last admission per owner so the dequeue
// long-poll can poll aggressively while work is arriving and back off
// when the owner goes quiet.
type Activity struct {
	window time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// ActivityOption configures an Activity tracker.
type ActivityOption func(*Activity)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ActivityOption {
	return func(a *Activity) { a.now = now }
}

// NewActivity creates a tracker that considers an owner hot for the
// given window after its last admission.
func NewActivity(window time.Duration, opts ...ActivityOption) *Activity {
	a := &Activity{
		window:   window,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MarkActive records an admission for the owner.
func (a *Activity) MarkActive(ownerHash string) {
	a.mu.Lock()
	a.lastSeen[ownerHash] = a.now()
	a.mu.Unlock()
}

// IsHot reports whether the owner admitted a job within the window.
func (a *Activity) IsHot(ownerHash string) bool {
	a.mu.RLock()
	seen, ok := a.lastSeen[ownerHash]
	a.mu.RUnlock()
	return ok && a.now().Sub(seen) < a.window
}
