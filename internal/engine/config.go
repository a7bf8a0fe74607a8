// Package engine drives the per-frame fast path: parse, validate,
// demultiplex, track, apply application logic, respond, account.
package engine

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/nanonet/nanonet/internal/packet"
)

// ErrConfig reports an invalid configuration from the control plane. It
// is returned to the caller synchronously and never aborts the fast path.
var ErrConfig = errors.New("invalid configuration")

// Protocol selects the transport the engine intercepts and responds on.
type Protocol uint8

const (
	ProtocolTCP Protocol = packet.ProtoTCP
	ProtocolUDP Protocol = packet.ProtoUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// ParseProtocol accepts the textual protocol names used by the CLI.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	default:
		return 0, fmt.Errorf("%w: protocol %q", ErrConfig, s)
	}
}

// Config is the engine's endpoint configuration. The fast path never
// sees this struct directly; SetConfig publishes an immutable snapshot
// and each Process call reads exactly one snapshot.
type Config struct {
	Enabled        bool       `json:"enabled"`
	TargetIP       netip.Addr `json:"target_ip"`
	TargetPort     uint16     `json:"target_port"`
	Protocol       Protocol   `json:"protocol"`
	ResponseIP     netip.Addr `json:"response_ip"`
	ResponsePort   uint16     `json:"response_port"`
	SeqNum         uint32     `json:"seq_num"`
	AppLogicType   uint8      `json:"app_logic_type"`
	Multicast      bool       `json:"multicast"`
	MulticastGroup netip.Addr `json:"multicast_group"`
}

// Validate enforces the config invariants. A disabled config is always
// acceptable; an enabled one must name a complete endpoint.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.TargetIP.Is4() || c.TargetIP.As4() == ([4]byte{}) {
		return fmt.Errorf("%w: target IP must be a nonzero IPv4 address", ErrConfig)
	}
	if !c.ResponseIP.Is4() || c.ResponseIP.As4() == ([4]byte{}) {
		return fmt.Errorf("%w: response IP must be a nonzero IPv4 address", ErrConfig)
	}
	if c.TargetPort == 0 {
		return fmt.Errorf("%w: target port is zero", ErrConfig)
	}
	if c.ResponsePort == 0 {
		return fmt.Errorf("%w: response port is zero", ErrConfig)
	}
	if c.Protocol != ProtocolTCP && c.Protocol != ProtocolUDP {
		return fmt.Errorf("%w: protocol %d", ErrConfig, uint8(c.Protocol))
	}
	if c.Multicast {
		if !c.MulticastGroup.Is4() || !c.MulticastGroup.IsMulticast() {
			return fmt.Errorf("%w: %s is not an IPv4 multicast group", ErrConfig, c.MulticastGroup)
		}
	}
	return nil
}
