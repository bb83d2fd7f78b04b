package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [TARGET]",
	Short: "Connect to a VPN server",
	Long: `Connect to a VPN server.

TARGET is a server name ("NL#1"), a two-letter country code ("CH"), or
"fastest". Without a target the fastest available server is used.

Example:
  polarisctl connect
  polarisctl connect NL#1
  polarisctl connect CH`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		wait, _ := cmd.Flags().GetBool("wait")

		if err := connect(target, wait); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().Bool("wait", true, "Wait for the connection to be established")
}

func connect(target string, wait bool) error {
	client := controlClient()
	ctx := context.Background()

	if err := client.Connect(ctx, target); err != nil {
		return err
	}
	if !wait {
		fmt.Println("Connecting...")
		return nil
	}

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := client.Connection(ctx)
		if err != nil {
			return err
		}
		switch conn.State {
		case "connected":
			fmt.Printf("Connected to %s\n", conn.ServerName)
			return nil
		case "error":
			if conn.Error != "" {
				return fmt.Errorf("connection failed: %s", conn.Error)
			}
			return fmt.Errorf("connection failed")
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for the connection")
}
