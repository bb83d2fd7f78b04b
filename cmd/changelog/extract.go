package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print the release notes for one version",
	Long: `Print the release notes for a single version, the way release
automation wants them: for GitHub release bodies and distro package
descriptions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		version, _ := cmd.Flags().GetString("version")

		changelog, err := parseFile(file)
		if err != nil {
			return err
		}

		release := changelog.Release(version)
		if release == nil {
			return fmt.Errorf("version %s not found in %s", version, file)
		}

		if release.Date != "" {
			fmt.Printf("## [%s] - %s\n\n", release.Version, release.Date)
		} else {
			fmt.Printf("## [%s]\n\n", release.Version)
		}
		fmt.Println(release.Notes)

		if url, ok := changelog.Links[release.Version]; ok {
			fmt.Printf("\n[%s]: %s\n", release.Version, url)
		}
		return nil
	},
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the versions in the changelog",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		changelog, err := parseFile(file)
		if err != nil {
			return err
		}

		if changelog.Unreleased != nil {
			fmt.Println("Unreleased")
		}
		for _, release := range changelog.Releases {
			if release.Date != "" {
				fmt.Printf("%s (%s)\n", release.Version, release.Date)
			} else {
				fmt.Println(release.Version)
			}
		}
		return nil
	},
}

func parseFile(file string) (*Changelog, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	changelog, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing changelog: %w", err)
	}
	return changelog, nil
}

func init() {
	extractCmd.Flags().StringP("file", "f", "CHANGELOG.md", "Path to the changelog file")
	extractCmd.Flags().StringP("version", "v", "", "Version to extract (with or without 'v' prefix)")
	_ = extractCmd.MarkFlagRequired("version")

	listCmd.Flags().StringP("file", "f", "CHANGELOG.md", "Path to the changelog file")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(listCmd)
}
