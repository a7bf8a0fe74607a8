package respond

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Acquire hands out every preallocated buffer exactly once, then
// reports exhaustion; releases restore capacity.
func TestPool_ExhaustionAndRelease(t *testing.T) {
	t.Parallel()
	p := NewPool()
	require.Equal(t, PoolSize, p.Free())

	bufs := make([][]byte, 0, PoolSize)
	for i := 0; i < PoolSize; i++ {
		b, err := p.Acquire()
		require.NoError(t, err)
		require.Equal(t, FrameCapacity, cap(b))
		require.Zero(t, len(b))
		bufs = append(bufs, b)
	}
	require.Equal(t, 0, p.Free())

	_, err := p.Acquire()
	require.ErrorIs(t, err, ErrNoBuffer)

	for _, b := range bufs {
		require.NoError(t, p.Release(b))
	}
	require.Equal(t, PoolSize, p.Free())
}

// Every acquire hands out a distinct backing array, and all of them
// release cleanly.
func TestPool_DistinctBuffers(t *testing.T) {
	t.Parallel()
	p := NewPool()

	seen := make(map[*byte]bool)
	bufs := make([][]byte, 0, PoolSize)
	for i := 0; i < PoolSize; i++ {
		b, err := p.Acquire()
		require.NoError(t, err)
		head := &b[:1][0]
		require.False(t, seen[head], "buffer handed out twice")
		seen[head] = true
		bufs = append(bufs, b)
	}
	for _, b := range bufs {
		require.NoError(t, p.Release(b))
	}
}

// A second release of the same logical slot overfills the pool and is
// reported.
func TestPool_DoubleReleaseDiagnosed(t *testing.T) {
	t.Parallel()
	p := NewPool()

	b, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(b))
	require.Error(t, p.Release(b))
}

// Foreign buffers are rejected.
func TestPool_ForeignBufferRejected(t *testing.T) {
	t.Parallel()
	p := NewPool()
	require.Error(t, p.Release(make([]byte, 0, 64)))
}
