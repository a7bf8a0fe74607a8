package engine

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/nanonet/nanonet/internal/applogic"
	"github.com/nanonet/nanonet/internal/conntrack"
	"github.com/nanonet/nanonet/internal/metrics"
	"github.com/nanonet/nanonet/internal/packet"
	"github.com/nanonet/nanonet/internal/respond"
)

// Verdict tells the ingress hook what to do with the frame.
type Verdict int

const (
	// VerdictAccept returns the frame to the host stack unchanged.
	VerdictAccept Verdict = iota
	// VerdictStolen retains ownership; the host stack must not process
	// the frame further.
	VerdictStolen
)

func (v Verdict) String() string {
	if v == VerdictStolen {
		return "stolen"
	}
	return "accept"
}

// Transmitter pushes a finished frame onto a device transmit queue.
type Transmitter interface {
	Transmit(frame []byte) error
}

// Options configures a new Engine. Zero-value fields get defaults.
type Options struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Tracker     *conntrack.Tracker
	Registry    *applogic.Registry
	Pool        *respond.Pool
	Transmitter Transmitter
}

// Engine is the fast-path orchestrator. Process may be called
// concurrently from multiple cores; all shared state is either atomic
// or guarded inside the owning component.
type Engine struct {
	log   *slog.Logger
	clock clockwork.Clock

	cfg atomic.Pointer[Config]
	seq atomic.Uint32

	stats   *stats
	debug   debugStats
	errlog  *errorSink
	admit   *rateLimiter
	tracker *conntrack.Tracker
	reg     *applogic.Registry
	pool    *respond.Pool
	builder *respond.Builder
	tx      Transmitter
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Tracker == nil {
		opts.Tracker = conntrack.New(opts.Clock)
	}
	if opts.Registry == nil {
		opts.Registry = applogic.DefaultRegistry(opts.Clock)
	}
	if opts.Pool == nil {
		opts.Pool = respond.NewPool()
	}
	e := &Engine{
		log:     opts.Logger,
		clock:   opts.Clock,
		stats:   newStats(),
		errlog:  newErrorSink(opts.Logger, opts.Clock),
		admit:   newRateLimiter(opts.Clock, DefaultRateInterval, DefaultRateBurst),
		tracker: opts.Tracker,
		reg:     opts.Registry,
		pool:    opts.Pool,
		builder: respond.NewBuilder(opts.Pool),
		tx:      opts.Transmitter,
	}
	e.cfg.Store(&Config{})
	return e
}

// Tracker exposes the flow table, e.g. for running the idle reaper.
func (e *Engine) Tracker() *conntrack.Tracker { return e.tracker }

// AttachTransmitter sets the device transmit queue. Must be called
// before the first Process.
func (e *Engine) AttachTransmitter(tx Transmitter) { e.tx = tx }

// SetConfig validates and atomically publishes a new configuration
// snapshot. The fast path picks it up on its next frame.
func (e *Engine) SetConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Enabled {
		if _, ok := e.reg.Lookup(c.AppLogicType); !ok {
			return errors.Join(ErrConfig, errors.New("unknown application logic type"))
		}
	}
	e.seq.Store(c.SeqNum)
	e.cfg.Store(&c)
	e.log.Info("configuration updated",
		"enabled", c.Enabled,
		"target", c.TargetIP,
		"port", c.TargetPort,
		"protocol", c.Protocol,
		"multicast", c.Multicast,
	)
	return nil
}

// Config returns a copy of the active configuration with the live
// sequence number folded in.
func (e *Engine) Config() Config {
	c := *e.cfg.Load()
	c.SeqNum = e.seq.Load()
	return c
}

// Stats returns a snapshot of the fast-path counters.
func (e *Engine) Stats() StatsSnapshot {
	return e.stats.snapshot(e.tracker.Active(), e.tracker.Dropped())
}

// ResetStats zeroes every counter and re-arms min latency.
func (e *Engine) ResetStats() {
	e.stats.reset()
	e.tracker.ResetCounters()
	e.log.Info("statistics reset")
}

// FlushConnections drops every tracked flow and returns the count.
func (e *Engine) FlushConnections() int {
	n := e.tracker.FlushAll()
	metrics.ConnectionsActive.Set(float64(e.tracker.Active()))
	e.log.Info("connections flushed", "count", n)
	return n
}

// Debug returns the debug counters and the last rate-limited error.
func (e *Engine) Debug() DebugSnapshot {
	return DebugSnapshot{
		FramesSeen:     e.debug.framesSeen.Load(),
		Allocations:    e.debug.allocations.Load(),
		QueueFull:      e.debug.queueFull.Load(),
		ChecksumErrors: e.debug.checksumErrors.Load(),
		LastError:      e.errlog.Last(),
	}
}

// LastError returns the most recent rate-limited error string.
func (e *Engine) LastError() string { return e.errlog.Last() }

func (e *Engine) bypass() Verdict {
	e.stats.packetsBypassed.Add(1)
	metrics.PacketsBypassed.Inc()
	return VerdictAccept
}

func (e *Engine) bypassError() Verdict {
	e.stats.errors.Add(1)
	return e.bypass()
}

// Process runs the full pipeline on one ingress frame. Every frame
// increments exactly one of packets_processed or packets_bypassed; the
// error counter advances iff the frame took an error path. The verdict
// is Stolen only when a processing decision was taken.
func (e *Engine) Process(data []byte, hasDevice bool) Verdict {
	e.debug.framesSeen.Add(1)
	metrics.FramesReceived.Inc()

	cfg := e.cfg.Load()
	if !cfg.Enabled || !hasDevice {
		return e.bypass()
	}

	t0 := e.clock.Now()

	frame, err := packet.Parse(data)
	if err != nil {
		if errors.Is(err, packet.ErrUnsupported) {
			return e.bypass()
		}
		if errors.Is(err, packet.ErrChecksum) {
			e.debug.checksumErrors.Add(1)
			metrics.ChecksumErrors.Inc()
		}
		e.errlog.Errorf("packet parsing failed: %v", err)
		return e.bypassError()
	}

	if err := e.validate(&frame); err != nil {
		return e.bypassError()
	}

	dst := frame.IP.Dst()
	if dst != cfg.TargetIP && (!cfg.Multicast || dst != cfg.MulticastGroup) {
		return e.bypass()
	}

	if cfg.Protocol == ProtocolTCP && frame.HasTCP() {
		if frame.TCP.DstPort() != cfg.TargetPort {
			return e.bypass()
		}
		created, err := e.tracker.Observe(frame.IP, frame.TCP)
		if err != nil {
			return e.bypassError()
		}
		if created {
			e.debug.allocations.Add(1)
			metrics.Allocations.Inc()
			metrics.ConnectionsActive.Set(float64(e.tracker.Active()))
		}
	} else if cfg.Protocol == ProtocolUDP && frame.HasUDP() {
		if frame.UDP.DstPort() != cfg.TargetPort {
			return e.bypass()
		}
	}

	result := e.applyLogic(&frame, cfg)

	e.stats.packetsProcessed.Add(1)
	metrics.PacketsProcessed.Inc()

	dt := e.clock.Since(t0)
	e.stats.observeLatency(uint64(dt.Nanoseconds()))
	metrics.ProcessLatency.Observe(dt.Seconds())

	e.log.Debug("packet processed",
		"src", frame.IP.Src(),
		"sport", frame.SrcPort(),
		"dst", dst,
		"dport", frame.DstPort(),
		"duration_ns", dt.Nanoseconds(),
		"result", result,
	)

	return VerdictStolen
}

// validate is the admission gate: the leaky-bucket limiter plus the
// cheap sanity rejects on source address and declared length.
func (e *Engine) validate(frame *packet.Frame) error {
	if !e.admit.Allow() {
		e.errlog.Errorf("rate limit exceeded")
		return ErrRateLimited
	}
	if frame.IP.Src().As4() == ([4]byte{}) || frame.IP.TotalLen() < packet.IPv4HeaderMin {
		e.errlog.Errorf("invalid packet: zero source IP or insufficient length")
		return packet.ErrMalformed
	}
	return nil
}

// applyLogic dispatches the payload to the configured handler and, if a
// response body comes back, frames and transmits it. The returned
// string is for the trace event.
func (e *Engine) applyLogic(frame *packet.Frame, cfg *Config) string {
	h, ok := e.reg.Lookup(cfg.AppLogicType)
	if !ok {
		e.stats.errors.Add(1)
		e.errlog.Errorf("unknown application logic type: %d", cfg.AppLogicType)
		return "error"
	}
	if len(frame.Payload) == 0 {
		return "no-payload"
	}

	body, err := h.Handle(frame.Payload)
	if err != nil {
		e.stats.errors.Add(1)
		e.errlog.Errorf("application logic failed: %v", err)
		return "error"
	}
	if body == nil {
		return "no-response"
	}

	if err := e.respond(frame, body, cfg); err != nil {
		e.stats.errors.Add(1)
		e.errlog.Errorf("failed to send response: %v", err)
		return "error"
	}

	e.stats.responsesSent.Add(1)
	metrics.ResponsesSent.Inc()
	return "responded"
}

func (e *Engine) respond(frame *packet.Frame, body []byte, cfg *Config) error {
	if !cfg.ResponseIP.Is4() || cfg.ResponseIP.As4() == ([4]byte{}) || cfg.ResponsePort == 0 {
		return errors.Join(ErrConfig, errors.New("zero response IP or port"))
	}
	if e.tx == nil {
		return respond.ErrNoDevice
	}

	p := respond.Params{
		Protocol: uint8(cfg.Protocol),
		SrcIP:    cfg.ResponseIP,
		DstIP:    frame.IP.Src(),
		SrcPort:  cfg.ResponsePort,
		DstPort:  frame.SrcPort(),
	}
	if cfg.Protocol == ProtocolTCP && frame.HasTCP() {
		p.Seq = e.seq.Load()
		p.AckSeq = ackFor(frame)
		p.ACK = true
	}

	out, err := e.builder.Build(frame, body, p)
	if err != nil {
		if errors.Is(err, respond.ErrNoBuffer) {
			e.debug.queueFull.Add(1)
			metrics.QueueFullEvents.Inc()
		}
		return err
	}
	defer func() {
		if rerr := e.pool.Release(out); rerr != nil {
			e.errlog.Errorf("buffer release failed: %v", rerr)
		}
	}()

	if err := e.tx.Transmit(out); err != nil {
		return err
	}

	if cfg.Protocol == ProtocolTCP {
		e.seq.Add(uint32(len(body)))
	}
	return nil
}

// ackFor acknowledges the original segment: its sequence number
// advanced by the payload length, or by one for a bare SYN or FIN.
func ackFor(frame *packet.Frame) uint32 {
	adv := uint32(len(frame.Payload))
	if adv == 0 && (frame.TCP.SYN() || frame.TCP.FIN()) {
		adv = 1
	}
	return frame.TCP.Seq() + adv
}
