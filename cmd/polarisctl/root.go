package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/polarisvpn/polaris-linux/pkg/config"
	"github.com/polarisvpn/polaris-linux/pkg/control"
)

var rootCmd = &cobra.Command{
	Use:   "polarisctl",
	Short: "Polaris VPN client for Linux",
	Long: `polarisctl controls the Polaris VPN daemon: login, server selection,
connecting and disconnecting, and user settings.

Most commands need the daemon to be running. Start it with:
  polarisctl daemon`,
}

// controlClient returns a client for the daemon's control API at the
// configured address.
func controlClient() *control.Client {
	return control.New(config.Get().ControlAddr)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
