package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// rpmCmd represents the rpm command
var rpmCmd = &cobra.Command{
	Use:   "rpm",
	Short: "Render changelog entries as an RPM %changelog section",
	Long: `Render released changelog entries in the format the RPM spec file
expects in its %changelog section. The Unreleased section is skipped.

Example:
  changelog rpm --packager "Polaris VPN Team <opensource@polarisvpn.example>"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		packager, _ := cmd.Flags().GetString("packager")

		changelog, err := parseFile(file)
		if err != nil {
			return err
		}

		blocks, err := RenderRPM(changelog, packager)
		if err != nil {
			return err
		}

		fmt.Print(blocks)
		return nil
	},
}

// RenderRPM renders the released entries of a changelog as RPM %changelog
// blocks, newest first. Releases without a parseable date are rejected since
// rpmbuild requires one.
func RenderRPM(changelog *Changelog, packager string) (string, error) {
	var b strings.Builder

	for _, release := range changelog.Releases {
		date, err := release.ReleasedAt()
		if err != nil {
			return "", fmt.Errorf("version %s: invalid release date %q", release.Version, release.Date)
		}

		fmt.Fprintf(&b, "* %s %s - %s-1\n", date.Format("Mon Jan 02 2006"), packager, release.Version)
		for _, line := range rpmBullets(release.Notes) {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

// rpmBullets flattens a release's notes into flat bullet lines, prefixing
// each item with its change type.
func rpmBullets(notes string) []string {
	var bullets []string
	changeType := ""

	for _, line := range strings.Split(notes, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "### "):
			changeType = strings.TrimPrefix(trimmed, "### ")
		case strings.HasPrefix(trimmed, "- "):
			item := strings.TrimPrefix(trimmed, "- ")
			if changeType != "" {
				bullets = append(bullets, changeType+": "+item)
			} else {
				bullets = append(bullets, item)
			}
		}
	}

	return bullets
}

func init() {
	rpmCmd.Flags().StringP("file", "f", "CHANGELOG.md", "Path to the changelog file")
	rpmCmd.Flags().StringP("packager", "p", "Polaris VPN Team <opensource@polarisvpn.example>", "Packager name and email")
	rootCmd.AddCommand(rpmCmd)
}
