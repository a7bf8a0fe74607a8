package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/nanonet/nanonet/internal/metrics"
)

// debugStats are the cumulative low-level event counters exposed on the
// debug surface, mirrored into Prometheus as they are incremented.
type debugStats struct {
	framesSeen     atomic.Uint64
	allocations    atomic.Uint64
	queueFull      atomic.Uint64
	checksumErrors atomic.Uint64
}

// DebugSnapshot is a point-in-time copy of the debug counters plus the
// most recent rate-limited error string.
type DebugSnapshot struct {
	FramesSeen     uint64 `json:"frames_seen"`
	Allocations    uint64 `json:"allocations"`
	QueueFull      uint64 `json:"queue_full_events"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	LastError      string `json:"last_error"`
}

// errorSink is the rate-limited fast-path error log. Beyond the slog
// line it retains the last message, prefixed with a nanosecond
// timestamp, for the debug surface.
type errorSink struct {
	log     *slog.Logger
	clock   clockwork.Clock
	limiter *rateLimiter

	mu   sync.Mutex
	last string
}

func newErrorSink(log *slog.Logger, clock clockwork.Clock) *errorSink {
	return &errorSink{
		log:     log,
		clock:   clock,
		limiter: newRateLimiter(clock, DefaultRateInterval, DefaultRateBurst),
	}
}

func (s *errorSink) Errorf(format string, args ...any) {
	if !s.limiter.Allow() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	stamped := fmt.Sprintf("[%d ns] %s", s.clock.Now().UnixNano(), msg)

	s.mu.Lock()
	s.last = stamped
	s.mu.Unlock()

	if s.log != nil {
		s.log.Error(msg)
	}
	metrics.FastPathErrors.Inc()
}

func (s *errorSink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
