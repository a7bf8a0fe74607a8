// Package packet decodes Ethernet/IPv4/TCP/UDP frames in place.
//
// The parser allocates nothing when a frame decodes (only a rejected
// frame's error value is allocated) and never trusts a length field
// before the containing header has been bounds-checked; it is the sole
// gate against out-of-bounds reads in the rest of the fast path.
package packet

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

const (
	EthHeaderLen  = 14
	IPv4HeaderMin = 20
	TCPHeaderMin  = 20
	UDPHeaderLen  = 8

	EtherTypeIPv4 = 0x0800

	ProtoTCP = 6
	ProtoUDP = 17
)

var (
	// ErrMalformed covers frames that fail bounds, version or checksum checks.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnsupported covers non-IPv4 EtherTypes and non-TCP/UDP protocols.
	// It is ordinary traffic, not an error condition.
	ErrUnsupported = errors.New("unsupported protocol")
	// ErrChecksum marks the Malformed subcases caused by a checksum
	// mismatch, so they can be counted separately.
	ErrChecksum = errors.New("checksum mismatch")
)

// EthHeader is a non-owning view of an Ethernet header.
type EthHeader struct {
	raw []byte
}

func (h EthHeader) Dst() []byte       { return h.raw[0:6] }
func (h EthHeader) Src() []byte       { return h.raw[6:12] }
func (h EthHeader) EtherType() uint16 { return binary.BigEndian.Uint16(h.raw[12:14]) }

// IPv4Header is a non-owning view of an IPv4 header.
type IPv4Header struct {
	raw []byte
}

func (h IPv4Header) Version() int     { return int(h.raw[0] >> 4) }
func (h IPv4Header) HeaderLen() int   { return int(h.raw[0]&0x0F) * 4 }
func (h IPv4Header) TOS() uint8       { return h.raw[1] }
func (h IPv4Header) TotalLen() uint16 { return binary.BigEndian.Uint16(h.raw[2:4]) }
func (h IPv4Header) ID() uint16       { return binary.BigEndian.Uint16(h.raw[4:6]) }
func (h IPv4Header) TTL() uint8       { return h.raw[8] }
func (h IPv4Header) Protocol() uint8  { return h.raw[9] }
func (h IPv4Header) Checksum() uint16 { return binary.BigEndian.Uint16(h.raw[10:12]) }

func (h IPv4Header) Src() netip.Addr { return netip.AddrFrom4([4]byte(h.raw[12:16])) }
func (h IPv4Header) Dst() netip.Addr { return netip.AddrFrom4([4]byte(h.raw[16:20])) }

// Raw exposes the header bytes (IHL-sized), e.g. for checksum verification.
func (h IPv4Header) Raw() []byte { return h.raw }

// TCPHeader is a non-owning view of a TCP header.
type TCPHeader struct {
	raw []byte
}

func (h TCPHeader) SrcPort() uint16 { return binary.BigEndian.Uint16(h.raw[0:2]) }
func (h TCPHeader) DstPort() uint16 { return binary.BigEndian.Uint16(h.raw[2:4]) }
func (h TCPHeader) Seq() uint32     { return binary.BigEndian.Uint32(h.raw[4:8]) }
func (h TCPHeader) AckSeq() uint32  { return binary.BigEndian.Uint32(h.raw[8:12]) }
func (h TCPHeader) DataOffset() int { return int(h.raw[12]>>4) * 4 }
func (h TCPHeader) FIN() bool       { return h.raw[13]&0x01 != 0 }
func (h TCPHeader) SYN() bool       { return h.raw[13]&0x02 != 0 }
func (h TCPHeader) RST() bool       { return h.raw[13]&0x04 != 0 }
func (h TCPHeader) PSH() bool       { return h.raw[13]&0x08 != 0 }
func (h TCPHeader) ACK() bool       { return h.raw[13]&0x10 != 0 }
func (h TCPHeader) Window() uint16  { return binary.BigEndian.Uint16(h.raw[14:16]) }

// UDPHeader is a non-owning view of a UDP header.
type UDPHeader struct {
	raw []byte
}

func (h UDPHeader) SrcPort() uint16  { return binary.BigEndian.Uint16(h.raw[0:2]) }
func (h UDPHeader) DstPort() uint16  { return binary.BigEndian.Uint16(h.raw[2:4]) }
func (h UDPHeader) Length() uint16   { return binary.BigEndian.Uint16(h.raw[4:6]) }
func (h UDPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.raw[6:8]) }

// Frame holds the decoded views into a single ingress frame. All slices
// alias the input buffer; a Frame must not outlive it.
type Frame struct {
	Eth     EthHeader
	IP      IPv4Header
	TCP     TCPHeader
	UDP     UDPHeader
	Payload []byte

	hasTCP bool
	hasUDP bool
}

func (f *Frame) HasTCP() bool { return f.hasTCP }
func (f *Frame) HasUDP() bool { return f.hasUDP }

// SrcPort returns the transport source port in host order.
func (f *Frame) SrcPort() uint16 {
	if f.hasTCP {
		return f.TCP.SrcPort()
	}
	return f.UDP.SrcPort()
}

// DstPort returns the transport destination port in host order.
func (f *Frame) DstPort() uint16 {
	if f.hasTCP {
		return f.TCP.DstPort()
	}
	return f.UDP.DstPort()
}
