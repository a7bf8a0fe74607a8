// Package metrics defines the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nanonet_build_info",
		Help: "Build information of the nanonet daemon.",
	}, []string{"version", "commit", "date"})

	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_frames_received_total", Help: "Total ingress frames handed to the pipeline.",
	})
	PacketsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_packets_processed_total", Help: "Frames the pipeline took a processing decision on.",
	})
	PacketsBypassed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_packets_bypassed_total", Help: "Frames returned to the host stack unprocessed.",
	})
	ResponsesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_responses_sent_total", Help: "Response frames transmitted.",
	})
	FastPathErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_fast_path_errors_total", Help: "Rate-limited fast-path errors.",
	})
	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_checksum_errors_total", Help: "Frames dropped for checksum mismatches.",
	})
	QueueFullEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_queue_full_events_total", Help: "Responses dropped because the buffer pool was empty.",
	})
	Allocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanonet_allocations_total", Help: "Flow-record allocations performed by the tracker.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nanonet_connections_active", Help: "Currently tracked TCP flows.",
	})
	ProcessLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nanonet_process_latency_seconds",
		Help:    "Per-frame pipeline latency.",
		Buckets: prometheus.ExponentialBuckets(100e-9, 4, 12),
	})
)
