package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, session and connection status",
	Run: func(cmd *cobra.Command, args []string) {
		if err := showStatus(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus() error {
	client := controlClient()
	ctx := context.Background()

	version, err := client.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Daemon:     running (version %s)\n", version)

	sess, err := client.Session(ctx)
	if err != nil {
		return err
	}
	if sess.Username != "" {
		fmt.Printf("Session:    %s (%s)\n", sess.State, sess.Username)
	} else {
		fmt.Printf("Session:    %s\n", sess.State)
	}

	conn, err := client.Connection(ctx)
	if err != nil {
		return err
	}
	switch {
	case conn.ServerName != "":
		fmt.Printf("Connection: %s to %s", conn.State, conn.ServerName)
		if conn.Protocol != "" {
			fmt.Printf(" (%s)", conn.Protocol)
		}
		fmt.Println()
	default:
		fmt.Printf("Connection: %s\n", conn.State)
	}
	if conn.ForwardedPort != 0 {
		fmt.Printf("Forwarded:  port %d\n", conn.ForwardedPort)
	}
	if conn.Error != "" {
		fmt.Printf("Error:      %s\n", conn.Error)
	}
	return nil
}
