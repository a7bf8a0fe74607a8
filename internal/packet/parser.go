package packet

import "fmt"

// Parse decodes an ingress frame in place. On success every view in the
// returned Frame lies entirely within data and the payload does not
// overlap any header. Parse allocates only when it rejects a frame (the
// returned error carries the reason) and never mutates the input.
func Parse(data []byte) (Frame, error) {
	var f Frame

	if len(data) < EthHeaderLen {
		return f, fmt.Errorf("%w: frame shorter than ethernet header (%d)", ErrMalformed, len(data))
	}
	f.Eth = EthHeader{raw: data[:EthHeaderLen]}
	if f.Eth.EtherType() != EtherTypeIPv4 {
		return f, fmt.Errorf("%w: ethertype 0x%04x", ErrUnsupported, f.Eth.EtherType())
	}

	if len(data) < EthHeaderLen+IPv4HeaderMin {
		return f, fmt.Errorf("%w: frame shorter than IPv4 header (%d)", ErrMalformed, len(data))
	}
	ip := data[EthHeaderLen:]
	f.IP = IPv4Header{raw: ip[:IPv4HeaderMin]}
	if f.IP.Version() != 4 {
		return f, fmt.Errorf("%w: IP version %d", ErrMalformed, f.IP.Version())
	}
	ihl := f.IP.HeaderLen()
	if ihl < IPv4HeaderMin {
		return f, fmt.Errorf("%w: IHL %d below minimum", ErrMalformed, ihl)
	}
	if len(ip) < ihl {
		return f, fmt.Errorf("%w: truncated IPv4 options", ErrMalformed)
	}
	f.IP = IPv4Header{raw: ip[:ihl]}
	if Checksum(f.IP.Raw()) != 0 {
		return f, fmt.Errorf("%w: IPv4 header %w", ErrMalformed, ErrChecksum)
	}

	transport := ip[ihl:]
	var thl int
	switch f.IP.Protocol() {
	case ProtoTCP:
		if len(transport) < TCPHeaderMin {
			return f, fmt.Errorf("%w: truncated TCP header", ErrMalformed)
		}
		f.TCP = TCPHeader{raw: transport[:TCPHeaderMin]}
		thl = f.TCP.DataOffset()
		if thl < TCPHeaderMin {
			return f, fmt.Errorf("%w: TCP data offset %d below minimum", ErrMalformed, thl)
		}
		if len(transport) < thl {
			return f, fmt.Errorf("%w: truncated TCP options", ErrMalformed)
		}
		f.hasTCP = true

	case ProtoUDP:
		if len(transport) < UDPHeaderLen {
			return f, fmt.Errorf("%w: truncated UDP header", ErrMalformed)
		}
		f.UDP = UDPHeader{raw: transport[:UDPHeaderLen]}
		thl = UDPHeaderLen
		if c := f.UDP.Checksum(); c != 0 {
			ulen := int(f.UDP.Length())
			if ulen < UDPHeaderLen || ulen > len(transport) {
				return f, fmt.Errorf("%w: UDP length %d", ErrMalformed, ulen)
			}
			if TransportChecksum(f.IP.Src(), f.IP.Dst(), ProtoUDP, transport[:ulen]) != 0 {
				return f, fmt.Errorf("%w: UDP %w", ErrMalformed, ErrChecksum)
			}
		}
		f.hasUDP = true

	default:
		return f, fmt.Errorf("%w: IP protocol %d", ErrUnsupported, f.IP.Protocol())
	}

	// The payload ends where the IP datagram does, so Ethernet trailer
	// padding on short frames is not part of it.
	end := len(data)
	if ipEnd := EthHeaderLen + int(f.IP.TotalLen()); ipEnd < end {
		end = ipEnd
	}
	if payloadLen := end - EthHeaderLen - ihl - thl; payloadLen > 0 {
		f.Payload = transport[thl : thl+payloadLen]
	}
	return f, nil
}
