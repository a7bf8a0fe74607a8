package packet

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// udpFrame builds a checksummed Ethernet/IPv4/UDP frame with gopacket,
// an implementation independent of the parser under test.
func udpFrame(t *testing.T, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func tcpFrame(t *testing.T, src, dst string, sport, dport uint16, seq uint32, syn, ack bool, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport),
		Seq: seq, SYN: syn, ACK: ack, Window: 65535, DataOffset: 5,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

// Verifies a well-formed UDP frame decodes into the expected views.
func TestParser_UDP_Decode(t *testing.T) {
	t.Parallel()
	payload := []byte("hello market")
	data := udpFrame(t, "10.0.0.9", "10.0.0.1", 40000, 8080, payload)

	f, err := Parse(data)
	require.NoError(t, err)
	require.True(t, f.HasUDP())
	require.False(t, f.HasTCP())
	require.Equal(t, "10.0.0.9", f.IP.Src().String())
	require.Equal(t, "10.0.0.1", f.IP.Dst().String())
	require.Equal(t, uint16(40000), f.UDP.SrcPort())
	require.Equal(t, uint16(8080), f.UDP.DstPort())
	require.Equal(t, payload, f.Payload)
}

// Verifies a TCP SYN decodes with flags, ports and an empty payload.
func TestParser_TCP_SYN_Decode(t *testing.T) {
	t.Parallel()
	data := tcpFrame(t, "10.0.0.9", "10.0.0.1", 1000, 8080, 42, true, false, nil)

	f, err := Parse(data)
	require.NoError(t, err)
	require.True(t, f.HasTCP())
	require.True(t, f.TCP.SYN())
	require.False(t, f.TCP.ACK())
	require.Equal(t, uint32(42), f.TCP.Seq())
	require.Empty(t, f.Payload)
}

// Confirms every parsed slice lies within the input frame.
func TestParser_SlicesWithinInput(t *testing.T) {
	t.Parallel()
	payload := []byte{1, 2, 3, 4, 5, 6, 7}
	data := tcpFrame(t, "192.168.1.5", "192.168.1.1", 55, 80, 7, false, true, payload)

	f, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, payload, f.Payload)
	require.Same(t, &data[len(data)-1], &f.Payload[len(f.Payload)-1])
	require.Same(t, &data[EthHeaderLen], &f.IP.Raw()[0])
}

// Exercises the malformed-frame rejects, including an IHL below the
// minimum header size.
func TestParser_Malformed(t *testing.T) {
	t.Parallel()

	good := udpFrame(t, "10.0.0.9", "10.0.0.1", 40000, 8080, []byte("x"))

	ihlTooSmall := append([]byte(nil), good...)
	ihlTooSmall[EthHeaderLen] = 0x44 // version 4, IHL 4
	reChecksum(ihlTooSmall)

	badVersion := append([]byte(nil), good...)
	badVersion[EthHeaderLen] = 0x65 // version 6
	reChecksum(badVersion)

	badIPChecksum := append([]byte(nil), good...)
	badIPChecksum[EthHeaderLen+10] ^= 0xFF

	badUDPChecksum := append([]byte(nil), good...)
	badUDPChecksum[len(badUDPChecksum)-1] ^= 0xFF

	cases := []struct {
		name string
		data []byte
	}{
		{"short frame", good[:10]},
		{"truncated IPv4", good[:EthHeaderLen+12]},
		{"IHL too small", ihlTooSmall},
		{"bad IP version", badVersion},
		{"bad IP checksum", badIPChecksum},
		{"bad UDP checksum", badUDPChecksum},
		{"truncated UDP", good[:EthHeaderLen+IPv4HeaderMin+4]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

// Non-IPv4 EtherTypes and non-TCP/UDP protocols are unsupported, not
// malformed.
func TestParser_Unsupported(t *testing.T) {
	t.Parallel()

	arp := udpFrame(t, "10.0.0.9", "10.0.0.1", 1, 2, nil)
	binary.BigEndian.PutUint16(arp[12:14], 0x0806)

	icmp := udpFrame(t, "10.0.0.9", "10.0.0.1", 1, 2, nil)
	icmp[EthHeaderLen+9] = 1 // ICMP
	reChecksum(icmp)

	for _, data := range [][]byte{arp, icmp} {
		_, err := Parse(data)
		require.ErrorIs(t, err, ErrUnsupported)
		require.NotErrorIs(t, err, ErrMalformed)
	}
}

// Checksum failures carry the checksum marker in addition to Malformed.
func TestParser_ChecksumErrorsMarked(t *testing.T) {
	t.Parallel()
	data := udpFrame(t, "10.0.0.9", "10.0.0.1", 40000, 8080, []byte("x"))
	data[EthHeaderLen+10] ^= 0xFF

	_, err := Parse(data)
	require.ErrorIs(t, err, ErrMalformed)
	require.ErrorIs(t, err, ErrChecksum)
}

// A frame whose lengths leave no room after the transport header has an
// empty payload rather than a negative one.
func TestParser_EmptyPayloadClamped(t *testing.T) {
	t.Parallel()
	data := udpFrame(t, "10.0.0.9", "10.0.0.1", 40000, 8080, nil)
	f, err := Parse(data)
	require.NoError(t, err)
	require.Empty(t, f.Payload)
}

// reChecksum rewrites the IPv4 header checksum after a test mutated the
// header.
func reChecksum(frame []byte) {
	ihl := int(frame[EthHeaderLen]&0x0F) * 4
	if ihl < IPv4HeaderMin || len(frame) < EthHeaderLen+ihl {
		ihl = IPv4HeaderMin
	}
	hdr := frame[EthHeaderLen : EthHeaderLen+ihl]
	binary.BigEndian.PutUint16(hdr[10:12], 0)
	binary.BigEndian.PutUint16(hdr[10:12], Checksum(hdr))
}

// Ensures Parse never panics on arbitrary input.
func FuzzParser_NoPanic(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x45, 0x00})
	f.Add(make([]byte, 13))
	f.Add(make([]byte, 64))
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 1<<16 {
			data = data[:1<<16]
		}
		frame, err := Parse(data)
		if err == nil {
			_ = frame.Payload
			_ = frame.IP.Dst()
		}
	})
}
