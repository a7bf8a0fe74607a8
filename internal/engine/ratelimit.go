package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrRateLimited reports a frame rejected by the admission gate.
var ErrRateLimited = errors.New("rate limit exceeded")

const (
	// DefaultRateInterval / DefaultRateBurst: 20 events per 5 seconds,
	// for both frame admission and error logging.
	DefaultRateInterval = 5 * time.Second
	DefaultRateBurst    = 20
)

// rateLimiter admits up to burst events per fixed interval and denies
// the rest, the semantics of the kernel's __ratelimit: the window is
// anchored at the first event after expiry, not slid per event.
type rateLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	burst    int

	begin time.Time
	count int
}

func newRateLimiter(clock clockwork.Clock, interval time.Duration, burst int) *rateLimiter {
	if interval <= 0 {
		interval = DefaultRateInterval
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return &rateLimiter{clock: clock, interval: interval, burst: burst}
}

func (r *rateLimiter) Allow() bool {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.begin.IsZero() || now.Sub(r.begin) >= r.interval {
		r.begin = now
		r.count = 0
	}
	if r.count < r.burst {
		r.count++
		return true
	}
	return false
}
