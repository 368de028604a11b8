package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound venue calls with a token bucket and tracks the
// venue-reported request weight so operators can see headroom before a ban.
type Limiter struct {
	bucket *rate.Limiter

	mu            sync.RWMutex
	usedWeight    int
	weightLimit   int
	lastReset     time.Time
	resetInterval time.Duration
}

// NewLimiter builds a limiter allowing rps requests per second with the
// given burst, tracking used weight against weightLimit per resetInterval
// (Binance spot: 1200 weight per minute).
func NewLimiter(rps float64, burst, weightLimit int, resetInterval time.Duration) *Limiter {
	return &Limiter{
		bucket:        rate.NewLimiter(rate.Limit(rps), burst),
		weightLimit:   weightLimit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until a request token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// UpdateFromHeader records the used weight from a venue response header.
func (l *Limiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetWindowLocked()
	l.usedWeight = weight
}

// AddWeight self-accounts the documented weight of a call for venues whose
// client library hides response headers.
func (l *Limiter) AddWeight(weight int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetWindowLocked()
	l.usedWeight += weight
}

func (l *Limiter) resetWindowLocked() {
	if time.Since(l.lastReset) >= l.resetInterval {
		l.usedWeight = 0
		l.lastReset = time.Now()
	}
}

// Usage returns used weight, the limit, and used percentage for the current
// window.
func (l *Limiter) Usage() (used, limit int, pct float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if time.Since(l.lastReset) >= l.resetInterval {
		return 0, l.weightLimit, 0
	}
	if l.weightLimit <= 0 {
		return l.usedWeight, l.weightLimit, 0
	}
	return l.usedWeight, l.weightLimit, float64(l.usedWeight) / float64(l.weightLimit) * 100
}

// NearLimit reports whether the window is close enough to the weight limit
// that non-essential calls should be deferred.
func (l *Limiter) NearLimit() bool {
	_, _, pct := l.Usage()
	return pct >= 90
}
