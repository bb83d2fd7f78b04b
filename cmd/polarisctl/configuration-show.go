package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polarisvpn/polaris-linux/pkg/config"
)

// configurationShowCmd represents the configuration show command
var configurationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configuration attributes and their sources",
	Long: `Show configuration attributes and their sources.

The values reflect the current state of the configuration sources, the
config file and POLARIS_* environment variables. They may differ from the
values a running daemon was started with.

Config file location: ` + config.DefaultConfigPath + `/` + config.ConfigFileName + ` (or POLARIS_CONFIG_PATH)

Example:
  polarisctl configuration show
  polarisctl configuration show --output json`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")

		if err := showConfiguration(output); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to show configuration: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	configurationCmd.AddCommand(configurationShowCmd)
	configurationShowCmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
}

func showConfiguration(output string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	attributes := cfg.Attributes()

	if output == "json" {
		data, err := json.MarshalIndent(attributes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVALUE\tSOURCE")
	for _, attr := range attributes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", attr.Name, attr.Value, attr.Source)
	}
	return w.Flush()
}
