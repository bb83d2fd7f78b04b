package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// settingsShowCmd represents the settings show command
var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current settings",
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")

		if err := showSettings(output); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsShowCmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
}

func showSettings(output string) error {
	current, err := controlClient().Settings(context.Background())
	if err != nil {
		return err
	}

	if output == "json" {
		data, err := json.MarshalIndent(current, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("protocol:        %s\n", current.Protocol)
	fmt.Printf("killswitch:      %s\n", current.KillSwitch)
	fmt.Printf("autoconnect:     %s\n", valueOrNone(current.Autoconnect))
	fmt.Printf("pinned_servers:  %s\n", valueOrNone(strings.Join(current.PinnedServers, ", ")))
	fmt.Printf("start_minimized: %t\n", current.StartMinimized)
	return nil
}

func valueOrNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
