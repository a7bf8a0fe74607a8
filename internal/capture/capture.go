//go:build linux

// Package capture binds the engine to a network interface: the
// AF_PACKET ingress loop that feeds frames into the pipeline and the
// raw transmit queue for response frames.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nanonet/nanonet/internal/engine"
	"github.com/nanonet/nanonet/internal/packet"
	"github.com/nanonet/nanonet/internal/respond"
)

const defaultPollTimeout = 250 * time.Millisecond

// Config configures a Capture.
type Config struct {
	Logger    *slog.Logger
	Interface string // required: ifname the engine is armed on
	Engine    *engine.Engine
	// PinCPU pins the read loop's OS thread to the given CPU; -1 leaves
	// scheduling to the kernel.
	PinCPU int
}

func (cfg *Config) Validate() error {
	if cfg.Interface == "" {
		return fmt.Errorf("interface is required")
	}
	if cfg.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	return nil
}

// Capture owns the AF_PACKET socket. The same socket receives ingress
// frames and transmits responses, pinned to one interface.
type Capture struct {
	log     *slog.Logger
	cfg     Config
	eng     *engine.Engine
	fd      int
	ifIndex int
}

// New opens an AF_PACKET socket bound to the configured interface.
// Requires CAP_NET_RAW.
func New(cfg Config) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup interface %q: %v", respond.ErrNoDevice, cfg.Interface, err)
	}

	proto := htons(unix.ETH_P_IP)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	sll := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}
	if err := unix.Bind(fd, sll); err != nil {
		return nil, fmt.Errorf("bind to %q: %w", cfg.Interface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	ok = true
	return &Capture{
		log:     cfg.Logger,
		cfg:     cfg,
		eng:     cfg.Engine,
		fd:      fd,
		ifIndex: ifi.Index,
	}, nil
}

func (c *Capture) Close() error { return unix.Close(c.fd) }

// Transmit enqueues a finished response frame on the bound interface.
// The destination MAC is taken from the frame itself.
func (c *Capture) Transmit(frame []byte) error {
	if len(frame) < packet.EthHeaderLen {
		return fmt.Errorf("%w: short frame", respond.ErrTransmitFailed)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  c.ifIndex,
		Halen:    6,
	}
	copy(sll.Addr[:6], frame[0:6])
	if err := unix.Sendto(c.fd, frame, 0, sll); err != nil {
		return fmt.Errorf("%w: %v", respond.ErrTransmitFailed, err)
	}
	return nil
}

// Run reads frames until ctx is cancelled, handing each to the engine.
// An eventfd interrupts poll() on cancellation so shutdown never waits
// on quiet interfaces.
func (c *Capture) Run(ctx context.Context) error {
	if c.cfg.PinCPU >= 0 {
		if err := pinToCPU(c.cfg.PinCPU); err != nil {
			c.log.Warn("cpu pinning failed", "cpu", c.cfg.PinCPU, "error", err)
		} else {
			c.log.Info("capture loop pinned", "cpu", c.cfg.PinCPU)
		}
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	defer unix.Close(efd)
	go func() {
		<-ctx.Done()
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(efd, one[:])
	}()

	c.log.Info("capture loop started", "interface", c.cfg.Interface, "ifindex", c.ifIndex)

	buf := make([]byte, 65535)
	pfds := []unix.PollFd{
		{Fd: int32(c.fd), Events: unix.POLLIN},
		{Fd: int32(efd), Events: unix.POLLIN},
	}

	for {
		nready, err := unix.Poll(pfds, int(defaultPollTimeout.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			var tmp [8]byte
			_, _ = unix.Read(efd, tmp[:])
			c.log.Info("capture loop shutting down")
			return nil
		}
		if nready == 0 || pfds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}

		n, from, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Debug("recvfrom error", "error", err)
			continue
		}

		// Skip frames we sent ourselves; the engine only sees ingress.
		if sll, ok := from.(*unix.SockaddrLinklayer); ok && sll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}

		c.eng.Process(buf[:n], true)
	}
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
