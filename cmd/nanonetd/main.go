//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nanonet/nanonet/internal/capture"
	"github.com/nanonet/nanonet/internal/conntrack"
	"github.com/nanonet/nanonet/internal/control"
	"github.com/nanonet/nanonet/internal/engine"
	"github.com/nanonet/nanonet/internal/metrics"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	Interface     string
	ControlSocket string
	MetricsAddr   string
	ConfigFile    string
	PinCPU        int
	ReapInterval  time.Duration
	MaxIdle       time.Duration
	Verbose       bool
	ShowVersion   bool
}

// fileConfig is the YAML shape of the initial engine configuration.
type fileConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TargetIP       string `yaml:"target_ip"`
	TargetPort     uint16 `yaml:"target_port"`
	Protocol       string `yaml:"protocol"`
	ResponseIP     string `yaml:"response_ip"`
	ResponsePort   uint16 `yaml:"response_port"`
	SeqNum         uint32 `yaml:"seq_num"`
	AppLogicType   uint8  `yaml:"app_logic_type"`
	Multicast      bool   `yaml:"multicast"`
	MulticastGroup string `yaml:"multicast_group"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if cfg.ShowVersion {
		fmt.Printf("nanonetd version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if err := capture.RequirePrivileges(); err != nil {
		return err
	}

	eng := engine.New(engine.Options{
		Logger: log.With("component", "engine"),
	})

	capt, err := capture.New(capture.Config{
		Logger:    log.With("component", "capture"),
		Interface: cfg.Interface,
		Engine:    eng,
		PinCPU:    cfg.PinCPU,
	})
	if err != nil {
		return fmt.Errorf("failed to create capture: %w", err)
	}
	defer capt.Close()
	eng.AttachTransmitter(capt)

	var leaveGroup func() error
	if cfg.ConfigFile != "" {
		ec, err := loadConfigFile(cfg.ConfigFile)
		if err != nil {
			return err
		}
		if err := eng.SetConfig(ec); err != nil {
			return fmt.Errorf("config file %s: %w", cfg.ConfigFile, err)
		}
		if ec.Multicast {
			leaveGroup, err = capture.JoinMulticastGroup(cfg.Interface, ec.MulticastGroup, ec.TargetPort)
			if err != nil {
				return fmt.Errorf("failed to join multicast group: %w", err)
			}
			log.Info("joined multicast group", "group", ec.MulticastGroup)
		}
	}
	if leaveGroup != nil {
		defer func() { _ = leaveGroup() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	go func() {
		if err := capt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("capture: %w", err)
		}
	}()

	ctl := control.New(log.With("component", "control"), eng,
		control.WithSockFile(cfg.ControlSocket),
		control.WithBaseContext(ctx),
	)
	go func() {
		if err := ctl.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("control: %w", err)
		}
	}()

	go eng.Tracker().RunReaper(ctx, log.With("component", "conntrack"), cfg.ReapInterval, cfg.MaxIdle)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	log.Info("nanonetd started", "version", version, "interface", cfg.Interface)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		cancel()
		return err
	}

	cancel()
	return nil
}

func parseFlags() config {
	var cfg config
	flag.StringVarP(&cfg.Interface, "interface", "i", "eth0", "Interface to intercept on")
	flag.StringVar(&cfg.ControlSocket, "control-socket", control.DefaultSocketPath, "Control API unix socket path")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "127.0.0.1:9640", "Prometheus metrics listen address (empty to disable)")
	flag.StringVarP(&cfg.ConfigFile, "config", "c", "", "Initial engine configuration (YAML)")
	flag.IntVar(&cfg.PinCPU, "pin-cpu", -1, "Pin the capture loop to this CPU (-1 to disable)")
	flag.DurationVar(&cfg.ReapInterval, "reap-interval", conntrack.DefaultReapInterval, "Idle connection sweep interval")
	flag.DurationVar(&cfg.MaxIdle, "max-idle", conntrack.DefaultMaxIdle, "Idle time before a connection is reaped")
	flag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")
	flag.Parse()
	return cfg
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.StampMilli,
	}))
}

func loadConfigFile(path string) (engine.Config, error) {
	var ec engine.Config
	b, err := os.ReadFile(path)
	if err != nil {
		return ec, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return ec, fmt.Errorf("parse config file: %w", err)
	}

	ec.Enabled = fc.Enabled
	ec.TargetPort = fc.TargetPort
	ec.ResponsePort = fc.ResponsePort
	ec.SeqNum = fc.SeqNum
	ec.AppLogicType = fc.AppLogicType
	ec.Multicast = fc.Multicast

	if fc.TargetIP != "" {
		if ec.TargetIP, err = netip.ParseAddr(fc.TargetIP); err != nil {
			return ec, fmt.Errorf("target_ip: %w", err)
		}
	}
	if fc.ResponseIP != "" {
		if ec.ResponseIP, err = netip.ParseAddr(fc.ResponseIP); err != nil {
			return ec, fmt.Errorf("response_ip: %w", err)
		}
	}
	if fc.MulticastGroup != "" {
		if ec.MulticastGroup, err = netip.ParseAddr(fc.MulticastGroup); err != nil {
			return ec, fmt.Errorf("multicast_group: %w", err)
		}
	}
	if fc.Protocol != "" {
		if ec.Protocol, err = engine.ParseProtocol(fc.Protocol); err != nil {
			return ec, err
		}
	}
	return ec, nil
}
