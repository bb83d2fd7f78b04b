package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// serversCmd represents the servers command
var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List the available VPN servers",
	Long: `List the available VPN servers.

Servers above the account's tier, under maintenance, or reserved for secure
core routing are shown but cannot be connected to directly.

Example:
  polarisctl servers
  polarisctl servers --search NL
  polarisctl servers --refresh`,
	Run: func(cmd *cobra.Command, args []string) {
		search, _ := cmd.Flags().GetString("search")
		refresh, _ := cmd.Flags().GetBool("refresh")

		if err := listServers(search, refresh); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.Flags().StringP("search", "s", "", "Filter by name, country or city")
	serversCmd.Flags().Bool("refresh", false, "Force a server list refresh first")
}

func listServers(search string, refresh bool) error {
	client := controlClient()
	ctx := context.Background()

	if refresh {
		if err := client.RefreshServers(ctx); err != nil {
			return err
		}
	}

	resp, err := client.Servers(ctx, search)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOUNTRY\tCITY\tLOAD\tSTATUS")
	for _, srv := range resp.Servers {
		status := "available"
		switch {
		case srv.UnderMaintenance:
			status = "maintenance"
		case srv.Tier > resp.UserTier:
			status = "upgrade required"
		case srv.SecureCore:
			status = "secure core"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
			srv.Name, srv.ExitCountry, srv.City, srv.Load, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d servers, list expires in %ds\n", len(resp.Servers), resp.ExpiresIn)
	return nil
}
