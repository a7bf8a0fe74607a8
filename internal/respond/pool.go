// Package respond owns the transmit side of the fast path: the
// preallocated buffer pool and response frame synthesis.
package respond

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoBuffer reports pool exhaustion; the response is dropped
	// rather than allocating on the hot path.
	ErrNoBuffer = errors.New("response buffer pool empty")
	// ErrNoDevice reports that no interface could be resolved for the
	// response frame.
	ErrNoDevice = errors.New("no network device")
	// ErrTransmitFailed reports an enqueue failure on the device path.
	ErrTransmitFailed = errors.New("transmit failed")
)

const (
	// PoolSize is the fixed number of preallocated transmit buffers.
	PoolSize = 256
	// FrameCapacity fits an MTU-class frame: 1500 bytes of IP packet
	// plus the Ethernet header.
	FrameCapacity = 1514
)

// Pool is a fixed ring of transmit buffers. A buffer is owned by
// exactly one side at a time: the pool until Acquire, the caller until
// Release. One mutex guards the free list; both operations are O(1).
type Pool struct {
	mu   sync.Mutex
	free [][]byte
}

func NewPool() *Pool {
	p := &Pool{free: make([][]byte, 0, PoolSize)}
	for i := 0; i < PoolSize; i++ {
		p.free = append(p.free, make([]byte, 0, FrameCapacity))
	}
	return p
}

// Acquire lends out a zero-length buffer with FrameCapacity capacity.
func (p *Pool) Acquire() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, ErrNoBuffer
	}
	buf := p.free[n-1]
	p.free[n-1] = nil // make double-release diagnosable
	p.free = p.free[:n-1]
	return buf[:0], nil
}

// Release returns a borrowed buffer. Releasing into a full pool means a
// buffer was handed back twice; that is reported, not absorbed.
func (p *Pool) Release(buf []byte) error {
	if cap(buf) != FrameCapacity {
		return fmt.Errorf("release of foreign buffer (cap %d)", cap(buf))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == PoolSize {
		return errors.New("release into full pool")
	}
	p.free = append(p.free, buf[:0])
	return nil
}

// Free reports how many buffers are resident in the pool.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
