package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the daemon to be ready",
	Long: `Wait for the daemon to be ready by polling the control API.

Example:
  polarisctl wait
  polarisctl wait --retries 60`,
	Run: func(cmd *cobra.Command, args []string) {
		retries, _ := cmd.Flags().GetInt("retries")

		if err := waitForDaemon(retries); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon did not become ready: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().IntP("retries", "r", 30, "Number of retries")
}

func waitForDaemon(retries int) error {
	client := controlClient()

	fmt.Println("Waiting for polarisd to be ready...")
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx)
		cancel()
		if err == nil {
			fmt.Println()
			fmt.Println("polarisd is ready!")
			return nil
		}

		fmt.Print(".")
		time.Sleep(1 * time.Second)
	}

	fmt.Println()
	return fmt.Errorf("polarisd is not ready after %d seconds", retries)
}
