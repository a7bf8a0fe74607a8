package respond

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/nanonet/nanonet/internal/packet"
)

// Params carries everything the builder needs to frame a response. The
// engine derives them from the active config and, when present, the
// original frame.
type Params struct {
	Protocol uint8 // packet.ProtoTCP or packet.ProtoUDP
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16

	// TCP only.
	Seq    uint32
	AckSeq uint32
	ACK    bool
}

const (
	ipFlagDF     = 0x4000
	responseTTL  = 64
	tcpWindow    = 65535
	tcpHeaderLen = 20
)

// Builder synthesises complete Ethernet+IPv4+TCP/UDP response frames
// into buffers borrowed from the pool.
type Builder struct {
	pool *Pool
}

func NewBuilder(pool *Pool) *Builder {
	return &Builder{pool: pool}
}

// Build borrows a buffer and assembles a response frame: Ethernet
// addresses swapped from the original (or zeroed), a fresh IPv4 header,
// a TCP or UDP header with a valid checksum, and the body appended
// verbatim. The returned slice is backed by the pool; the caller must
// Release it once the transmit path is done with it, on every outcome.
func (b *Builder) Build(orig *packet.Frame, body []byte, p Params) ([]byte, error) {
	transportLen := packet.UDPHeaderLen
	if p.Protocol == packet.ProtoTCP {
		transportLen = tcpHeaderLen
	}
	total := packet.EthHeaderLen + packet.IPv4HeaderMin + transportLen + len(body)
	if total > FrameCapacity {
		return nil, fmt.Errorf("response frame %d bytes exceeds capacity %d", total, FrameCapacity)
	}

	buf, err := b.pool.Acquire()
	if err != nil {
		return nil, err
	}
	frame := buf[:total]

	eth := frame[:packet.EthHeaderLen]
	if orig != nil {
		copy(eth[0:6], orig.Eth.Src())
		copy(eth[6:12], orig.Eth.Dst())
	} else {
		clear(eth[0:12])
	}
	binary.BigEndian.PutUint16(eth[12:14], packet.EtherTypeIPv4)

	ip := frame[packet.EthHeaderLen : packet.EthHeaderLen+packet.IPv4HeaderMin]
	clear(ip)
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(packet.IPv4HeaderMin+transportLen+len(body)))
	binary.BigEndian.PutUint16(ip[6:8], ipFlagDF)
	ip[8] = responseTTL
	ip[9] = p.Protocol
	src, dst := p.SrcIP.As4(), p.DstIP.As4()
	copy(ip[12:16], src[:])
	copy(ip[16:20], dst[:])
	binary.BigEndian.PutUint16(ip[10:12], packet.Checksum(ip))

	segment := frame[packet.EthHeaderLen+packet.IPv4HeaderMin:]
	switch p.Protocol {
	case packet.ProtoTCP:
		tcp := segment[:tcpHeaderLen]
		clear(tcp)
		binary.BigEndian.PutUint16(tcp[0:2], p.SrcPort)
		binary.BigEndian.PutUint16(tcp[2:4], p.DstPort)
		binary.BigEndian.PutUint32(tcp[4:8], p.Seq)
		binary.BigEndian.PutUint32(tcp[8:12], p.AckSeq)
		tcp[12] = (tcpHeaderLen / 4) << 4
		tcp[13] = 0x08 // PSH
		if p.ACK {
			tcp[13] |= 0x10
		}
		binary.BigEndian.PutUint16(tcp[14:16], tcpWindow)
		copy(segment[tcpHeaderLen:], body)
		binary.BigEndian.PutUint16(tcp[16:18],
			packet.TransportChecksum(p.SrcIP, p.DstIP, packet.ProtoTCP, segment))

	case packet.ProtoUDP:
		udp := segment[:packet.UDPHeaderLen]
		binary.BigEndian.PutUint16(udp[0:2], p.SrcPort)
		binary.BigEndian.PutUint16(udp[2:4], p.DstPort)
		binary.BigEndian.PutUint16(udp[4:6], uint16(packet.UDPHeaderLen+len(body)))
		binary.BigEndian.PutUint16(udp[6:8], 0) // checksum optional over IPv4
		copy(segment[packet.UDPHeaderLen:], body)

	default:
		if rerr := b.pool.Release(frame); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("unsupported response protocol %d", p.Protocol)
	}

	return frame, nil
}
