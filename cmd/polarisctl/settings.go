package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// settingsCmd represents the settings command
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage user settings",
	Long:  `Manage user settings: protocol, kill switch and autoconnect.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'settings' requires a subcommand (show, set)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}
