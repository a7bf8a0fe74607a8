package conntrack

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/nanonet/nanonet/internal/packet"
)

// segment builds a TCP frame with gopacket and parses it back into the
// header views the tracker consumes.
func segment(t *testing.T, src, dst string, sport, dport uint16, seq, ack uint32, syn, ackFlag bool) (packet.IPv4Header, packet.TCPHeader) {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport),
		Seq: seq, Ack: ack, SYN: syn, ACK: ackFlag, Window: 65535, DataOffset: 5,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp))

	f, err := packet.Parse(buf.Bytes())
	require.NoError(t, err)
	require.True(t, f.HasTCP())
	return f.IP, f.TCP
}

// A pure SYN creates a flow in syn-sent; the server's SYN-ACK reply is a
// distinct 4-tuple and is rejected; a SYN-ACK on the flow's own 4-tuple
// transitions it to established; a flush drops exactly one.
func TestTracker_HandshakeAndFlush(t *testing.T) {
	t.Parallel()
	tr := New(clockwork.NewFakeClock())

	ip, tcp := segment(t, "10.0.0.5", "10.0.0.1", 1000, 8080, 100, 0, true, false)
	created, err := tr.Observe(ip, tcp)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(1), tr.Active())

	c, ok := tr.Lookup([4]byte{10, 0, 0, 5}, [4]byte{10, 0, 0, 1}, 1000, 8080)
	require.True(t, ok)
	require.Equal(t, StateSynSent, c.State)

	// SYN-ACK from the server side is a distinct 4-tuple: a pure SYN it
	// is not, so it must not create a flow.
	ip2, tcp2 := segment(t, "10.0.0.1", "10.0.0.5", 8080, 1000, 500, 101, true, true)
	_, err = tr.Observe(ip2, tcp2)
	require.ErrorIs(t, err, ErrUntrackedSegment)

	// The same flow seeing a SYN-ACK transitions to established.
	ip3, tcp3 := segment(t, "10.0.0.5", "10.0.0.1", 1000, 8080, 200, 501, true, true)
	created, err = tr.Observe(ip3, tcp3)
	require.NoError(t, err)
	require.False(t, created)

	c, ok = tr.Lookup([4]byte{10, 0, 0, 5}, [4]byte{10, 0, 0, 1}, 1000, 8080)
	require.True(t, ok)
	require.Equal(t, StateEstablished, c.State)
	require.Equal(t, uint32(200), c.Seq)
	require.Equal(t, uint32(501), c.Ack)

	require.Equal(t, 1, tr.FlushAll())
	require.Equal(t, int64(0), tr.Active())
	require.Equal(t, uint64(1), tr.Dropped())
}

// A non-SYN segment for an unknown flow is rejected without insertion.
func TestTracker_UntrackedSegment(t *testing.T) {
	t.Parallel()
	tr := New(clockwork.NewFakeClock())

	ip, tcp := segment(t, "10.0.0.5", "10.0.0.1", 1000, 8080, 100, 1, false, true)
	created, err := tr.Observe(ip, tcp)
	require.ErrorIs(t, err, ErrUntrackedSegment)
	require.False(t, created)
	require.Equal(t, int64(0), tr.Active())
}

// Observing an existing flow refreshes last-seen.
func TestTracker_LastSeenRefresh(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	tr := New(clock)

	ip, tcp := segment(t, "10.0.0.5", "10.0.0.1", 1000, 8080, 100, 0, true, false)
	_, err := tr.Observe(ip, tcp)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	ip2, tcp2 := segment(t, "10.0.0.5", "10.0.0.1", 1000, 8080, 101, 0, false, true)
	_, err = tr.Observe(ip2, tcp2)
	require.NoError(t, err)

	c, ok := tr.Lookup([4]byte{10, 0, 0, 5}, [4]byte{10, 0, 0, 1}, 1000, 8080)
	require.True(t, ok)
	require.Equal(t, clock.Now(), c.LastSeen)
}

// Reap drops only flows past the idle cutoff.
func TestTracker_Reap(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	tr := New(clock)

	ipOld, tcpOld := segment(t, "10.0.0.5", "10.0.0.1", 1000, 8080, 1, 0, true, false)
	_, err := tr.Observe(ipOld, tcpOld)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)

	ipNew, tcpNew := segment(t, "10.0.0.6", "10.0.0.1", 2000, 8080, 1, 0, true, false)
	_, err = tr.Observe(ipNew, tcpNew)
	require.NoError(t, err)
	require.Equal(t, int64(2), tr.Active())

	require.Equal(t, 1, tr.Reap(60*time.Second))
	require.Equal(t, int64(1), tr.Active())
	require.Equal(t, uint64(1), tr.Dropped())

	_, ok := tr.Lookup([4]byte{10, 0, 0, 5}, [4]byte{10, 0, 0, 1}, 1000, 8080)
	require.False(t, ok)
	_, ok = tr.Lookup([4]byte{10, 0, 0, 6}, [4]byte{10, 0, 0, 1}, 2000, 8080)
	require.True(t, ok)
}

// Flushing many flows drops each exactly once.
func TestTracker_FlushCountsDistinctFlows(t *testing.T) {
	t.Parallel()
	tr := New(clockwork.NewFakeClock())

	const flows = 64
	for i := 0; i < flows; i++ {
		ip, tcp := segment(t, "10.0.1.7", "10.0.0.1", uint16(1000+i), 8080, 1, 0, true, false)
		created, err := tr.Observe(ip, tcp)
		require.NoError(t, err)
		require.True(t, created)
	}
	require.Equal(t, int64(flows), tr.Active())
	require.Equal(t, flows, tr.FlushAll())
	require.Equal(t, uint64(flows), tr.Dropped())
	require.Equal(t, int64(0), tr.Active())
}

// The 3-word hash is deterministic and stays within the bucket range.
func TestTracker_HashDeterministic(t *testing.T) {
	t.Parallel()
	a := bucketFor([4]byte{10, 0, 0, 5}, [4]byte{10, 0, 0, 1}, 1000, 8080)
	b := bucketFor([4]byte{10, 0, 0, 5}, [4]byte{10, 0, 0, 1}, 1000, 8080)
	require.Equal(t, a, b)
	require.Less(t, a, uint32(bucketCount))
}
