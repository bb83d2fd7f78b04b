package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// ValidationError is a single finding, with the offending line when known.
type ValidationError struct {
	Line    int
	Message string
}

// ValidationResult collects findings.
type ValidationResult struct {
	Errors []ValidationError
}

func (r *ValidationResult) add(line int, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the changelog before cutting a release",
	Long: `Check that the changelog can back a release.

Beyond the Keep a Changelog layout (title, [Unreleased] section, change
types, link definitions), every released version must parse as semantic
versioning, carry a real ISO 8601 date, have release notes, and the releases
must run newest to oldest in both version and date. A changelog that passes
renders cleanly into the RPM %changelog section.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		result := Validate(content)
		if result.IsValid() {
			fmt.Println("✓ Changelog is valid")
			return nil
		}

		fmt.Printf("Found %d issue(s):\n\n", len(result.Errors))
		for _, e := range result.Errors {
			if e.Line > 0 {
				fmt.Printf("  Line %d: %s\n", e.Line, e.Message)
			} else {
				fmt.Printf("  %s\n", e.Message)
			}
		}

		os.Exit(1)
		return nil
	},
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

var changeTypes = map[string]bool{
	"Added":      true,
	"Changed":    true,
	"Deprecated": true,
	"Removed":    true,
	"Fixed":      true,
	"Security":   true,
}

// Validate checks a changelog against the release requirements.
func Validate(source []byte) *ValidationResult {
	result := &ValidationResult{}

	changelog, err := Parse(source)
	if err != nil {
		result.add(0, "Not parseable as markdown: %v", err)
		return result
	}

	checkLayout(source, result)

	if changelog.Unreleased == nil {
		result.add(0, "Missing [Unreleased] section")
	} else if _, ok := changelog.Links["Unreleased"]; !ok {
		result.add(0, "Missing link definition for [Unreleased]")
	}

	var newer *Release
	for i := range changelog.Releases {
		release := &changelog.Releases[i]

		if !semverPattern.MatchString(release.Version) {
			result.add(release.Line, "Version '%s' should follow semantic versioning (X.Y.Z)", release.Version)
		}

		releasedAt, dateErr := release.ReleasedAt()
		if dateErr != nil {
			if release.Date == "" {
				result.add(release.Line, "Version '%s' is missing a release date", release.Version)
			} else {
				result.add(release.Line, "Date '%s' is not a real ISO 8601 date (YYYY-MM-DD)", release.Date)
			}
		}

		if release.Notes == "" {
			result.add(release.Line, "Version '%s' has no release notes", release.Version)
		}

		if _, ok := changelog.Links[release.Version]; !ok {
			result.add(0, "Missing link definition for version [%s]", release.Version)
		}

		// Releases run newest to oldest, in both version and date.
		if newer != nil {
			if compareVersions(release.Version, newer.Version) >= 0 {
				result.add(release.Line, "Version '%s' is not older than '%s' above it", release.Version, newer.Version)
			}
			if newerAt, err := newer.ReleasedAt(); err == nil && dateErr == nil && releasedAt.After(newerAt) {
				result.add(release.Line, "Date '%s' is newer than the release above it", release.Date)
			}
		}
		newer = release
	}

	return result
}

// checkLayout line-scans for the checks that need exact line numbers: the
// title and the change type headers.
func checkLayout(source []byte, result *ValidationResult) {
	hasTitle := false
	for i, line := range strings.Split(string(source), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "# ") {
			hasTitle = true
			if !strings.Contains(strings.ToLower(trimmed), "changelog") {
				result.add(i+1, "Title should contain 'Changelog'")
			}
		}

		if strings.HasPrefix(trimmed, "### ") {
			changeType := strings.TrimPrefix(trimmed, "### ")
			if !changeTypes[changeType] {
				result.add(i+1, "Invalid change type '%s'. Valid types: Added, Changed, Deprecated, Removed, Fixed, Security", changeType)
			}
		}
	}
	if !hasTitle {
		result.add(0, "Missing changelog title (# Changelog)")
	}
}

// compareVersions orders two X.Y.Z versions numerically. Unparseable
// components compare as zero.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < 3; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func init() {
	validateCmd.Flags().StringP("file", "f", "CHANGELOG.md", "Path to the changelog file")
	rootCmd.AddCommand(validateCmd)
}
