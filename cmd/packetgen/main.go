// packetgen sends synthetic market-data ticks at a target endpoint, for
// exercising a nanonetd engine end to end.
package main

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/net/ipv4"

	"github.com/nanonet/nanonet/internal/applogic"
)

type config struct {
	Target    string
	Port      uint16
	Protocol  string
	Multicast bool
	TTL       int
	Symbol    string
	Price     uint32
	Quantity  uint32
	Count     int
	Interval  time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	addr, err := netip.ParseAddr(cfg.Target)
	if err != nil {
		return fmt.Errorf("invalid target IP %q: %w", cfg.Target, err)
	}
	if cfg.Multicast && cfg.Protocol != "udp" {
		return fmt.Errorf("multicast requires udp")
	}

	target := fmt.Sprintf("%s:%d", addr, cfg.Port)
	conn, err := net.Dial(cfg.Protocol, target)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", cfg.Protocol, target, err)
	}
	defer conn.Close()

	if cfg.Multicast {
		p := ipv4.NewPacketConn(conn.(*net.UDPConn))
		_ = p.SetMulticastTTL(cfg.TTL)
	}

	for i := 0; i < cfg.Count; i++ {
		m := applogic.MarketData{
			Price:     cfg.Price,
			Quantity:  cfg.Quantity,
			Timestamp: uint64(time.Now().UnixNano()),
		}
		copy(m.Symbol[:], cfg.Symbol)

		b, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := conn.Write(b); err != nil {
			return fmt.Errorf("send tick %d: %w", i+1, err)
		}
		fmt.Printf("sent %s price=%d quantity=%d to %s (%s)\n",
			cfg.Symbol, cfg.Price, cfg.Quantity, target, cfg.Protocol)

		if i+1 < cfg.Count {
			time.Sleep(cfg.Interval)
		}
	}
	return nil
}

func parseFlags() config {
	var cfg config
	flag.StringVarP(&cfg.Target, "target", "t", "127.0.0.1", "Target IP address")
	flag.Uint16VarP(&cfg.Port, "port", "p", 8080, "Target port")
	flag.StringVar(&cfg.Protocol, "protocol", "udp", "Transport protocol (tcp or udp)")
	flag.BoolVar(&cfg.Multicast, "multicast", false, "Send to a multicast group (udp only)")
	flag.IntVar(&cfg.TTL, "ttl", 1, "Multicast TTL")
	flag.StringVarP(&cfg.Symbol, "symbol", "s", "AAPL    ", "Instrument symbol (8 chars)")
	flag.Uint32Var(&cfg.Price, "price", 9999, "Tick price in hundredths")
	flag.Uint32Var(&cfg.Quantity, "quantity", 1000, "Tick quantity")
	flag.IntVarP(&cfg.Count, "count", "n", 1, "Number of ticks to send")
	flag.DurationVar(&cfg.Interval, "interval", 100*time.Millisecond, "Delay between ticks")
	flag.Parse()
	return cfg
}
