// Package conntrack maintains the TCP flow table consulted by the fast
// path: a fixed-size bucket array of intrusive chains under one coarse
// lock. Critical sections are a single bucket walk.
package conntrack

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nanonet/nanonet/internal/packet"
)

// ErrUntrackedSegment reports a TCP segment that matches no known flow
// and is not a pure SYN.
var ErrUntrackedSegment = errors.New("untracked TCP segment")

const bucketCount = 1024

// State is the coarse flow state. Only the handshake transitions are
// tracked; the full TCP state machine is out of scope.
type State uint8

const (
	StateClosed State = iota
	StateSynSent
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateSynSent:
		return "syn-sent"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Conn is a tracked flow. It is exclusively owned by its hash bucket.
type Conn struct {
	SrcIP    [4]byte
	DstIP    [4]byte
	SrcPort  uint16
	DstPort  uint16
	State    State
	Seq      uint32
	Ack      uint32
	LastSeen time.Time

	next *Conn
}

// Tracker is the flow table. One mutex guards all buckets; the working
// set is small and hold times are bounded to a single chain walk.
type Tracker struct {
	mu      sync.Mutex
	buckets [bucketCount]*Conn
	clock   clockwork.Clock

	active  atomic.Int64
	dropped atomic.Uint64
}

func New(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock}
}

// Observe applies a parsed TCP segment to the flow table. A pure SYN
// creates a flow in syn-sent; SYN+ACK transitions it to established and
// records host-order seq/ack; any matching segment refreshes last-seen.
// Segments that match no flow and are not a pure SYN are rejected.
// created reports whether a new flow record was allocated.
func (t *Tracker) Observe(ip packet.IPv4Header, tcp packet.TCPHeader) (created bool, err error) {
	src, dst := ip.Src().As4(), ip.Dst().As4()
	sport, dport := tcp.SrcPort(), tcp.DstPort()
	idx := bucketFor(src, dst, sport, dport)

	syn, ack := tcp.SYN(), tcp.ACK()
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for c := t.buckets[idx]; c != nil; c = c.next {
		if c.SrcIP == src && c.DstIP == dst && c.SrcPort == sport && c.DstPort == dport {
			c.LastSeen = now
			switch {
			case syn && !ack:
				c.State = StateSynSent
			case syn && ack:
				c.State = StateEstablished
				c.Seq = tcp.Seq()
				c.Ack = tcp.AckSeq()
			}
			return false, nil
		}
	}

	if !(syn && !ack) {
		return false, ErrUntrackedSegment
	}

	c := &Conn{
		SrcIP:    src,
		DstIP:    dst,
		SrcPort:  sport,
		DstPort:  dport,
		State:    StateSynSent,
		Seq:      tcp.Seq(),
		LastSeen: now,
		next:     t.buckets[idx],
	}
	t.buckets[idx] = c
	t.active.Add(1)
	return true, nil
}

// Lookup returns a copy of the flow for the given 4-tuple, if tracked.
func (t *Tracker) Lookup(src, dst [4]byte, sport, dport uint16) (Conn, bool) {
	idx := bucketFor(src, dst, sport, dport)
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := t.buckets[idx]; c != nil; c = c.next {
		if c.SrcIP == src && c.DstIP == dst && c.SrcPort == sport && c.DstPort == dport {
			return *c, true
		}
	}
	return Conn{}, false
}

// FlushAll drains every bucket and returns the number of flows dropped.
func (t *Tracker) FlushAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.buckets {
		for c := t.buckets[i]; c != nil; c = c.next {
			n++
		}
		t.buckets[i] = nil
	}
	t.active.Add(int64(-n))
	t.dropped.Add(uint64(n))
	return n
}

// Reap removes flows idle for longer than maxIdle and returns how many
// were dropped.
func (t *Tracker) Reap(maxIdle time.Duration) int {
	cutoff := t.clock.Now().Add(-maxIdle)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.buckets {
		pp := &t.buckets[i]
		for c := *pp; c != nil; c = *pp {
			if c.LastSeen.Before(cutoff) {
				*pp = c.next
				n++
				continue
			}
			pp = &c.next
		}
	}
	t.active.Add(int64(-n))
	t.dropped.Add(uint64(n))
	return n
}

// Active returns the current number of tracked flows.
func (t *Tracker) Active() int64 { return t.active.Load() }

// Dropped returns the cumulative number of flushed or reaped flows.
func (t *Tracker) Dropped() uint64 { return t.dropped.Load() }

// ResetCounters zeroes the active/dropped counters without touching the
// table, mirroring a control-plane stats reset.
func (t *Tracker) ResetCounters() {
	t.active.Store(0)
	t.dropped.Store(0)
}

func bucketFor(src, dst [4]byte, sport, dport uint16) uint32 {
	a := uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
	b := uint32(dst[0])<<24 | uint32(dst[1])<<16 | uint32(dst[2])<<8 | uint32(dst[3])
	c := uint32(sport)<<16 | uint32(dport)
	return jhash3(a, b, c) % bucketCount
}
