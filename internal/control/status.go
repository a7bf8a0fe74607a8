package control

import (
	"fmt"
	"io"
	"math"

	"github.com/nanonet/nanonet/internal/engine"
)

// WriteStatus renders the human-readable status snapshot: the active
// configuration followed by every statistics field.
func WriteStatus(w io.Writer, cfg engine.Config, st engine.StatsSnapshot) {
	fmt.Fprintf(w, "NanoNet Engine Status\n")
	fmt.Fprintf(w, "========================================\n")
	fmt.Fprintf(w, "Enabled: %s\n", yesNo(cfg.Enabled))
	fmt.Fprintf(w, "Target IP: %s\n", cfg.TargetIP)
	fmt.Fprintf(w, "Target Port: %d\n", cfg.TargetPort)
	fmt.Fprintf(w, "Protocol: %s\n", cfg.Protocol)
	fmt.Fprintf(w, "Multicast: %s\n", yesNo(cfg.Multicast))
	if cfg.Multicast {
		fmt.Fprintf(w, "Multicast Group: %s\n", cfg.MulticastGroup)
	}
	fmt.Fprintf(w, "\nStatistics:\n")
	fmt.Fprintf(w, "Packets Processed: %d\n", st.PacketsProcessed)
	fmt.Fprintf(w, "Packets Bypassed: %d\n", st.PacketsBypassed)
	fmt.Fprintf(w, "Responses Sent: %d\n", st.ResponsesSent)
	fmt.Fprintf(w, "Errors: %d\n", st.Errors)
	fmt.Fprintf(w, "Active Connections: %d\n", st.ConnectionsActive)
	fmt.Fprintf(w, "Dropped Connections: %d\n", st.ConnectionsDropped)
	fmt.Fprintf(w, "Min Process Time: %s ns\n", formatMin(st.MinProcessNs))
	fmt.Fprintf(w, "Max Process Time: %d ns\n", st.MaxProcessNs)
	fmt.Fprintf(w, "Avg Process Time: %d ns\n", st.AvgProcessNs)
	fmt.Fprintf(w, "Last Process Time: %d ns\n", st.LastProcessNs)
}

// WriteDebug renders the cumulative debug counters and the most recent
// rate-limited error.
func WriteDebug(w io.Writer, d engine.DebugSnapshot) {
	fmt.Fprintf(w, "NanoNet Debug Statistics\n")
	fmt.Fprintf(w, "============================\n")
	fmt.Fprintf(w, "Frames Seen: %d\n", d.FramesSeen)
	fmt.Fprintf(w, "Flow Allocations: %d\n", d.Allocations)
	fmt.Fprintf(w, "Queue Full Events: %d\n", d.QueueFull)
	fmt.Fprintf(w, "Checksum Errors: %d\n", d.ChecksumErrors)
	fmt.Fprintf(w, "Last Error: %s\n", d.LastError)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// formatMin shows a dash while min is still armed at its initial
// maximum, before the first processed frame.
func formatMin(v uint64) string {
	if v == math.MaxUint64 {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}
