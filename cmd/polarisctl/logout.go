package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and remove the stored session",
	Long: `Log out and remove the stored session.

Disconnects the VPN if connected, invalidates the session with the API and
removes the credentials from the system keyring.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := controlClient().Logout(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Logged out")
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
