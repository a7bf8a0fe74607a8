package engine

import (
	"math"
	"sync/atomic"
)

// stats are the process-wide fast-path counters. Everything here is
// atomic so concurrent Process calls on different cores never take a
// lock for accounting: min/max go through CAS loops, the mean is a
// monotonic sum plus count.
type stats struct {
	packetsProcessed atomic.Uint64
	packetsBypassed  atomic.Uint64
	responsesSent    atomic.Uint64
	errors           atomic.Uint64

	lastNs     atomic.Uint64
	minNs      atomic.Uint64
	maxNs      atomic.Uint64
	latencySum atomic.Uint64
}

func newStats() *stats {
	s := &stats{}
	s.minNs.Store(math.MaxUint64)
	return s
}

func (s *stats) observeLatency(ns uint64) {
	s.lastNs.Store(ns)
	s.latencySum.Add(ns)
	for {
		cur := s.minNs.Load()
		if ns >= cur || s.minNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := s.maxNs.Load()
		if ns <= cur || s.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (s *stats) reset() {
	s.packetsProcessed.Store(0)
	s.packetsBypassed.Store(0)
	s.responsesSent.Store(0)
	s.errors.Store(0)
	s.lastNs.Store(0)
	s.minNs.Store(math.MaxUint64)
	s.maxNs.Store(0)
	s.latencySum.Store(0)
}

// StatsSnapshot is a point-in-time copy of the counters, as exposed on
// the control channel and status surface.
type StatsSnapshot struct {
	PacketsProcessed   uint64 `json:"packets_processed"`
	PacketsBypassed    uint64 `json:"packets_bypassed"`
	ResponsesSent      uint64 `json:"responses_sent"`
	Errors             uint64 `json:"errors"`
	ConnectionsActive  int64  `json:"connections_active"`
	ConnectionsDropped uint64 `json:"connections_dropped"`
	LastProcessNs      uint64 `json:"last_process_time_ns"`
	MinProcessNs       uint64 `json:"min_process_time_ns"`
	MaxProcessNs       uint64 `json:"max_process_time_ns"`
	AvgProcessNs       uint64 `json:"avg_process_time_ns"`
}

func (s *stats) snapshot(active int64, dropped uint64) StatsSnapshot {
	processed := s.packetsProcessed.Load()
	var avg uint64
	if processed > 0 {
		avg = s.latencySum.Load() / processed
	}
	return StatsSnapshot{
		PacketsProcessed:   processed,
		PacketsBypassed:    s.packetsBypassed.Load(),
		ResponsesSent:      s.responsesSent.Load(),
		Errors:             s.errors.Load(),
		ConnectionsActive:  active,
		ConnectionsDropped: dropped,
		LastProcessNs:      s.lastNs.Load(),
		MinProcessNs:       s.minNs.Load(),
		MaxProcessNs:       s.maxNs.Load(),
		AvgProcessNs:       avg,
	}
}
