package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dougsko/fpvlinkd/pkg/client"
)

const envPrefix = "FPVLINKCTL"

var (
	socketPath string
	rawOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "fpvlinkctl",
	Short: "Control tool for the fpvlinkd link daemon",
	Long: `fpvlinkctl talks to fpvlinkd over its Unix control socket.

Request commands (power, switch, rotate, swap, flags, mode) print the id of
the queued request; follow it with "session" or "history".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindEnv(cmd.Flags())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/fpvlinkd.sock",
		"Unix socket path")
	rootCmd.PersistentFlags().BoolVar(&rawOutput, "raw", false,
		"print the raw JSON response")

	rootCmd.AddCommand(
		statusCmd(),
		interfacesCmd(),
		linksCmd(),
		powerCmd(),
		modeCmd(),
		switchCmd(),
		simpleRequestCmd("rotate", "Rotate controller interfaces across the links", (*client.SocketClient).Rotate),
		simpleRequestCmd("swap", "Swap the two high-capacity controller interfaces", (*client.SocketClient).Swap),
		flagsCmd(),
		sessionCmd(),
		cancelCmd(),
		historyCmd(),
		sendCmd(),
	)
}

// bindEnv fills unset flags from FPVLINKCTL_<FLAG> environment variables
func bindEnv(flags *pflag.FlagSet) error {
	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if value, ok := os.LookupEnv(name); ok {
			if err := f.Value.Set(value); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", name, err)
			}
		}
	})
	return firstErr
}

func newClient() *client.SocketClient {
	return client.NewSocketClient(socketPath)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printRequest(id string) {
	if rawOutput {
		printJSON(map[string]string{"request_id": id})
		return
	}
	fmt.Printf("queued request %s\n", id)
}

func parseIntArg(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, value)
	}
	return n, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if rawOutput {
				data, err := c.GetStatusDetail()
				if err != nil {
					return err
				}
				return printJSON(data)
			}
			status, err := c.GetStatus()
			if err != nil {
				return err
			}
			fmt.Printf("fpvlinkd %s (up %s)\n", status.Version, status.Uptime)
			fmt.Printf("  power mode:  %s\n", status.PowerMode)
			fmt.Printf("  paired:      %t\n", status.Paired)
			fmt.Printf("  controller:  %d interfaces\n", status.Controller)
			fmt.Printf("  vehicle:     %d interfaces, %d links\n", status.Vehicle, status.Links)
			return nil
		},
	}
}

func interfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "interfaces [controller|vehicle]",
		Short:     "List radio interfaces",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"controller", "vehicle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			side := ""
			if len(args) == 1 {
				side = args[0]
			}
			data, err := newClient().Interfaces(side)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}

func linksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links [link]",
		Short: "Show vehicle links and which controller interfaces can carry them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if len(args) == 0 {
				data, err := c.Links()
				if err != nil {
					return err
				}
				return printJSON(data)
			}
			linkID, err := parseIntArg("link", args[0])
			if err != nil {
				return err
			}
			data, err := c.Eligibility(linkID)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}

func powerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "power [interface mW]",
		Short: "Show effective power, or request a new TX power for an interface",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <interface> <mW>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if len(args) == 0 {
				data, err := c.Power()
				if err != nil {
					return err
				}
				return printJSON(data)
			}
			mw, err := parseIntArg("mW", args[1])
			if err != nil {
				return err
			}
			id, err := c.SetPower(args[0], mw)
			if err != nil {
				return err
			}
			printRequest(id)
			return nil
		},
	}
}

func modeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode [fixed|auto]",
		Short:     "Show or change the power mode",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"fixed", "auto"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if len(args) == 0 {
				mode, err := c.Mode()
				if err != nil {
					return err
				}
				fmt.Println(mode)
				return nil
			}
			id, err := c.SetMode(args[0])
			if err != nil {
				return err
			}
			printRequest(id)
			return nil
		},
	}
}

func switchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <link>",
		Short: "Move the preferred eligible controller interface onto a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			linkID, err := parseIntArg("link", args[0])
			if err != nil {
				return err
			}
			id, err := newClient().Switch(linkID)
			if err != nil {
				return err
			}
			printRequest(id)
			return nil
		},
	}
}

func simpleRequestCmd(use, short string, fn func(*client.SocketClient) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fn(newClient())
			if err != nil {
				return err
			}
			printRequest(id)
			return nil
		},
	}
}

func flagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "flags <interface> <flags>",
		Short:   "Request new capability flags for an interface",
		Example: "  fpvlinkctl flags wlan1 video|data|tx|rx",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := newClient().Flags(args[0], args[1])
			if err != nil {
				return err
			}
			printRequest(id)
			return nil
		},
	}
}

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "session [controller|vehicle]",
		Short:     "Show command session state",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"controller", "vehicle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			data, err := newClient().Session(target)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a queued request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Cancel(args[0]); err != nil {
				return err
			}
			fmt.Printf("cancelled %s\n", args[0])
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished commands, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newClient().History(limit)
			if err != nil {
				return err
			}
			if rawOutput {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("%v  %-10v %-18v %-12v %v\n",
					e["timestamp"], e["target"], e["kind"], e["outcome"], e["error"])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "send <command>",
		Short:   "Send a raw protocol line",
		Example: "  fpvlinkctl send POWER:wlan0:250\n  echo 'STATUS' | nc -U /tmp/fpvlinkd.sock",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().SendCommand(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(resp.String())
			return nil
		},
	}
}
