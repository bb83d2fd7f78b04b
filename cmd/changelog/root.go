package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Release notes tooling for the Polaris Linux client",
	Long: `Parse, validate and render the client's CHANGELOG.md.

The changelog follows the Keep a Changelog format. Release automation uses
this tool to extract the notes for a tagged version and to render the RPM
%changelog section for packaging.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
