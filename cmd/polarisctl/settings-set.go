package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// settingsSetCmd represents the settings set command
var settingsSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Change a setting",
	Long: `Change a setting.

Settings:
  protocol        wireguard, openvpn-udp or openvpn-tcp
  killswitch      off, on or permanent
  autoconnect     server name, country code, "fastest", or "" to disable
  pinned_servers  comma-separated server names
  start_minimized true or false

Example:
  polarisctl settings set killswitch permanent
  polarisctl settings set protocol openvpn-udp`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := setSetting(args[0], args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
}

func setSetting(name, value string) error {
	client := controlClient()
	ctx := context.Background()

	current, err := client.Settings(ctx)
	if err != nil {
		return err
	}

	switch name {
	case "protocol":
		current.Protocol = value
	case "killswitch":
		current.KillSwitch = value
	case "autoconnect":
		current.Autoconnect = value
	case "pinned_servers":
		current.PinnedServers = nil
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				current.PinnedServers = append(current.PinnedServers, s)
			}
		}
	case "start_minimized":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("start_minimized must be true or false")
		}
		current.StartMinimized = parsed
	default:
		return fmt.Errorf("unknown setting %q", name)
	}

	if err := client.UpdateSettings(ctx, *current); err != nil {
		return err
	}
	fmt.Printf("%s set to %q\n", name, value)
	return nil
}
