package main

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nanonet/nanonet/internal/control"
	"github.com/nanonet/nanonet/internal/engine"
)

var sockFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nanonetctl",
		Short:         "Control a running nanonetd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&sockFile, "socket", control.DefaultSocketPath, "nanonetd control socket")

	root.AddCommand(
		newStatusCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newConfigCmd(),
		newStatsCmd(),
		newResetCmd(),
		newClearConnectionsCmd(),
		newDebugCmd(),
	)
	return root
}

func client() *control.Client { return control.NewClient(sockFile) }

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current configuration and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func setEnabled(cmd *cobra.Command, enabled bool) error {
	c := client()
	cfg, err := c.GetConfig(cmd.Context())
	if err != nil {
		return err
	}
	cfg.Enabled = enabled
	return c.SetConfig(cmd.Context(), cfg)
}

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable packet processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setEnabled(cmd, true); err != nil {
				return err
			}
			fmt.Println("packet processing enabled")
			return nil
		},
	}
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable packet processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setEnabled(cmd, false); err != nil {
				return err
			}
			fmt.Println("packet processing disabled")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var responseIP string
	var responsePort uint16
	var appLogic uint8

	cmd := &cobra.Command{
		Use:   "config <ip> <port> tcp|udp [multicast <group>]",
		Short: "Set the target endpoint configuration",
		Args:  cobra.RangeArgs(3, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(args, responseIP, responsePort, appLogic)
			if err != nil {
				return err
			}
			if err := client().SetConfig(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Println("configuration updated")
			return nil
		},
	}
	cmd.Flags().StringVar(&responseIP, "response-ip", "", "Response source IP (defaults to the target IP)")
	cmd.Flags().Uint16Var(&responsePort, "response-port", 0, "Response source port (defaults to target port + 1)")
	cmd.Flags().Uint8Var(&appLogic, "app-logic", 0, "Application logic type")
	return cmd
}

func buildConfig(args []string, responseIP string, responsePort uint16, appLogic uint8) (engine.Config, error) {
	var cfg engine.Config

	ip, err := netip.ParseAddr(args[0])
	if err != nil {
		return cfg, fmt.Errorf("invalid IP address %q: %w", args[0], err)
	}
	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil || port == 0 {
		return cfg, fmt.Errorf("invalid port %q", args[1])
	}
	proto, err := engine.ParseProtocol(args[2])
	if err != nil {
		return cfg, err
	}

	cfg.Enabled = true
	cfg.TargetIP = ip
	cfg.TargetPort = uint16(port)
	cfg.Protocol = proto
	cfg.AppLogicType = appLogic

	cfg.ResponseIP = ip
	if responseIP != "" {
		if cfg.ResponseIP, err = netip.ParseAddr(responseIP); err != nil {
			return cfg, fmt.Errorf("invalid response IP %q: %w", responseIP, err)
		}
	}
	cfg.ResponsePort = uint16(port) + 1
	if responsePort != 0 {
		cfg.ResponsePort = responsePort
	}

	if len(args) > 3 {
		if args[3] != "multicast" || len(args) != 5 {
			return cfg, fmt.Errorf("usage: config <ip> <port> tcp|udp [multicast <group>]")
		}
		group, err := netip.ParseAddr(args[4])
		if err != nil {
			return cfg, fmt.Errorf("invalid multicast group %q: %w", args[4], err)
		}
		cfg.Multicast = true
		cfg.MulticastGroup = group
	}
	return cfg, nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().GetStats(cmd.Context())
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Counter", "Value"})
			table.Append([]string{"Packets Processed", fmt.Sprint(st.PacketsProcessed)})
			table.Append([]string{"Packets Bypassed", fmt.Sprint(st.PacketsBypassed)})
			table.Append([]string{"Responses Sent", fmt.Sprint(st.ResponsesSent)})
			table.Append([]string{"Errors", fmt.Sprint(st.Errors)})
			table.Append([]string{"Active Connections", fmt.Sprint(st.ConnectionsActive)})
			table.Append([]string{"Dropped Connections", fmt.Sprint(st.ConnectionsDropped)})
			table.Append([]string{"Last Process Time (ns)", fmt.Sprint(st.LastProcessNs)})
			table.Append([]string{"Min Process Time (ns)", fmt.Sprint(st.MinProcessNs)})
			table.Append([]string{"Max Process Time (ns)", fmt.Sprint(st.MaxProcessNs)})
			table.Append([]string{"Avg Process Time (ns)", fmt.Sprint(st.AvgProcessNs)})
			table.Render()
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().ResetStats(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("statistics reset")
			return nil
		},
	}
}

func newClearConnectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-connections",
		Short: "Flush all tracked TCP connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := client().FlushConnections(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d connections\n", n)
			return nil
		},
	}
}

func newDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Show debug counters and the last error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Debug(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
