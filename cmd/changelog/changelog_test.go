package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validChangelog = `# Changelog

All notable changes to this project will be documented in this file.

The format is based on [Keep a Changelog](https://keepachangelog.com/en/1.1.0/),
and this project adheres to [Semantic Versioning](https://semver.org/spec/v2.0.0.html).

## [Unreleased]

### Added
- New feature in progress

## [1.0.0] - 2024-01-15

### Added
- Initial release
- Core functionality

### Fixed
- Bug fixes

## [0.1.0] - 2024-01-01

### Added
- Beta release

[Unreleased]: https://github.com/example/repo/compare/v1.0.0...HEAD
[1.0.0]: https://github.com/example/repo/compare/v0.1.0...v1.0.0
[0.1.0]: https://github.com/example/repo/releases/tag/v0.1.0
`

func TestParse(t *testing.T) {
	changelog, err := Parse([]byte(validChangelog))
	require.NoError(t, err)

	require.NotNil(t, changelog.Unreleased)
	assert.Contains(t, changelog.Unreleased.Notes, "New feature in progress")

	require.Len(t, changelog.Releases, 2)
	assert.Equal(t, "1.0.0", changelog.Releases[0].Version)
	assert.Equal(t, "2024-01-15", changelog.Releases[0].Date)
	assert.Contains(t, changelog.Releases[0].Notes, "Initial release")
	assert.False(t, strings.HasSuffix(changelog.Releases[0].Notes, "##"),
		"notes must stop before the next section heading")
	assert.Equal(t, "0.1.0", changelog.Releases[1].Version)
	assert.Equal(t, "### Added\n- Beta release", changelog.Releases[1].Notes)

	released, err := changelog.Releases[0].ReleasedAt()
	require.NoError(t, err)
	assert.Equal(t, 2024, released.Year())

	assert.Len(t, changelog.Links, 3)
	assert.Equal(t, "https://github.com/example/repo/compare/v0.1.0...v1.0.0", changelog.Links["1.0.0"])
}

func TestParse_NotesExcludeLinkDefinitions(t *testing.T) {
	changelog, err := Parse([]byte(validChangelog))
	require.NoError(t, err)

	for _, release := range changelog.Releases {
		assert.NotContains(t, release.Notes, "https://github.com")
	}
}

func TestChangelog_Release(t *testing.T) {
	changelog, err := Parse([]byte(validChangelog))
	require.NoError(t, err)

	tests := []struct {
		name     string
		version  string
		expected string
	}{
		{"exact version", "1.0.0", "1.0.0"},
		{"with v prefix", "v1.0.0", "1.0.0"},
		{"older version", "0.1.0", "0.1.0"},
		{"non-existent", "2.0.0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := changelog.Release(tt.version)
			if tt.expected == "" {
				assert.Nil(t, release)
			} else {
				require.NotNil(t, release)
				assert.Equal(t, tt.expected, release.Version)
			}
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	result := Validate([]byte(validChangelog))
	assert.True(t, result.IsValid(), "Expected valid changelog, got errors: %v", result.Errors)
}

func TestValidate_MissingTitle(t *testing.T) {
	changelog := `## [Unreleased]

## [1.0.0] - 2024-01-15

### Added
- Something

[Unreleased]: https://example.com
[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasError(result, "Missing changelog title (# Changelog)"))
}

func TestValidate_MissingUnreleased(t *testing.T) {
	changelog := `# Changelog

## [1.0.0] - 2024-01-15

### Added
- Something

[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasError(result, "Missing [Unreleased] section"))
}

func TestValidate_InvalidDate(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [1.0.0] - 15-01-2024

### Added
- Something

[Unreleased]: https://example.com
[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "ISO 8601"))
}

func TestValidate_ImpossibleDate(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [1.0.0] - 2024-13-40

### Added
- Something

[Unreleased]: https://example.com
[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "not a real ISO 8601 date"))
}

func TestValidate_MissingDate(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [1.0.0]

### Added
- Something

[Unreleased]: https://example.com
[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "missing a release date"))
}

func TestValidate_NotSemver(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [1.0] - 2024-01-15

### Added
- Something

[Unreleased]: https://example.com
[1.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "semantic versioning"))
}

func TestValidate_VersionsOutOfOrder(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [0.1.0] - 2024-01-01

### Added
- Beta release

## [1.0.0] - 2024-01-15

### Added
- Something

[Unreleased]: https://example.com
[0.1.0]: https://example.com
[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "Version '1.0.0' is not older than '0.1.0' above it"))
	assert.True(t, hasErrorContaining(result, "Date '2024-01-15' is newer than the release above it"))
}

func TestValidate_EmptyReleaseNotes(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [1.0.0] - 2024-01-15

[Unreleased]: https://example.com
[1.0.0]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "Version '1.0.0' has no release notes"))
}

func TestValidate_InvalidChangeType(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

### New
- Something

[Unreleased]: https://example.com
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "Invalid change type"))
}

func TestValidate_MissingLinkDefinition(t *testing.T) {
	changelog := `# Changelog

## [Unreleased]

## [1.0.0] - 2024-01-15

### Added
- Something
`
	result := Validate([]byte(changelog))
	assert.False(t, result.IsValid())
	assert.True(t, hasErrorContaining(result, "Missing link definition for [Unreleased]"))
	assert.True(t, hasErrorContaining(result, "Missing link definition for version [1.0.0]"))
}

func TestRenderRPM(t *testing.T) {
	changelog, err := Parse([]byte(validChangelog))
	require.NoError(t, err)

	out, err := RenderRPM(changelog, "Polaris VPN Team <opensource@polarisvpn.example>")
	require.NoError(t, err)

	// Unreleased is skipped, released entries come newest first.
	assert.NotContains(t, out, "Unreleased")
	assert.Contains(t, out, "* Mon Jan 15 2024 Polaris VPN Team <opensource@polarisvpn.example> - 1.0.0-1")
	assert.Contains(t, out, "* Mon Jan 01 2024 Polaris VPN Team <opensource@polarisvpn.example> - 0.1.0-1")
	assert.Contains(t, out, "- Added: Initial release")
	assert.Contains(t, out, "- Fixed: Bug fixes")
	assert.Less(t, strings.Index(out, "1.0.0-1"), strings.Index(out, "0.1.0-1"))
}

func TestRenderRPM_MissingDate(t *testing.T) {
	changelog := &Changelog{
		Releases: []Release{{Version: "1.0.0", Notes: "### Added\n- Something"}},
	}

	_, err := RenderRPM(changelog, "Someone <someone@example.com>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid release date")
}

func hasError(result *ValidationResult, message string) bool {
	for _, e := range result.Errors {
		if e.Message == message {
			return true
		}
	}
	return false
}

func hasErrorContaining(result *ValidationResult, substr string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
