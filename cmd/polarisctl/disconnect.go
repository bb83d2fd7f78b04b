package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// disconnectCmd represents the disconnect command
var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect from the VPN",
	Run: func(cmd *cobra.Command, args []string) {
		if err := controlClient().Disconnect(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Disconnected")
	},
}

func init() {
	rootCmd.AddCommand(disconnectCmd)
}
