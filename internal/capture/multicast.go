//go:build linux

package capture

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// JoinMulticastGroup joins group on the named interface so the kernel
// delivers the group's frames to the host. The returned closer leaves
// the group. This is a one-time control-plane action; the fast path
// only matches destination addresses.
func JoinMulticastGroup(ifaceName string, group netip.Addr, port uint16) (func() error, error) {
	if !group.Is4() || !group.IsMulticast() {
		return nil, fmt.Errorf("%s is not an IPv4 multicast address", group)
	}

	var ifi *net.Interface
	if ifaceName != "" {
		var err error
		ifi, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("lookup interface %q: %w", ifaceName, err)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	p := ipv4.NewPacketConn(conn)
	gaddr := &net.UDPAddr{IP: group.AsSlice()}
	if err := p.JoinGroup(ifi, gaddr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join multicast group %s: %w", group, err)
	}

	leave := func() error {
		_ = p.LeaveGroup(ifi, gaddr)
		return conn.Close()
	}
	return leave, nil
}
