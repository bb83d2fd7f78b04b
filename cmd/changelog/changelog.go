package main

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// dateLayout is the release date format: ISO 8601, which is what Keep a
// Changelog prescribes and what the RPM %changelog rendering needs.
const dateLayout = "2006-01-02"

// Release is one version section of the release notes.
type Release struct {
	Version string
	Date    string
	// Notes is the section body, link definitions stripped.
	Notes string
	// Line is the heading's line number in the source file.
	Line int
}

// ReleasedAt parses the release date.
func (r *Release) ReleasedAt() (time.Time, error) {
	return time.Parse(dateLayout, r.Date)
}

// Changelog is the parsed release history of the client.
type Changelog struct {
	// Unreleased collects the changes not shipped yet, nil when the section
	// is missing.
	Unreleased *Release
	// Releases are the shipped versions, in file order (newest first in a
	// well-formed changelog).
	Releases []Release
	Links    map[string]string
}

// Release looks a shipped version up, with or without a "v" prefix.
func (c *Changelog) Release(version string) *Release {
	version = strings.TrimPrefix(version, "v")
	for i := range c.Releases {
		if strings.TrimPrefix(c.Releases[i].Version, "v") == version {
			return &c.Releases[i]
		}
	}
	return nil
}

var linkDefLine = regexp.MustCompile(`^\[[^\]]+\]:\s+\S+\s*$`)

// Parse reads a Keep a Changelog formatted file into its release sections.
// Every level-2 heading starts a section; everything up to the next one is
// that release's notes.
func Parse(source []byte) (*Changelog, error) {
	md := goldmark.New()
	reader := text.NewReader(source)
	pctx := parser.NewContext()
	doc := md.Parser().Parse(reader, parser.WithContext(pctx))

	c := &Changelog{Links: make(map[string]string)}
	for _, ref := range pctx.References() {
		c.Links[string(ref.Label())] = string(ref.Destination())
	}

	type section struct {
		release   Release
		headStart int
		bodyStart int
	}
	var sections []section

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 {
			return ast.WalkContinue, nil
		}
		lines := heading.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}

		// Lines() covers the heading text only, so rewind to the start of
		// the line to get the boundary in front of the "## " marker.
		start := lineStart(source, lines.At(0).Start)
		version, date := splitVersionHeading(headingText(heading, source))
		sections = append(sections, section{
			release: Release{
				Version: version,
				Date:    date,
				Line:    lineAt(source, start),
			},
			headStart: start,
			bodyStart: lines.At(lines.Len() - 1).Stop,
		})
		return ast.WalkContinue, nil
	})

	for i, s := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].headStart
		}
		if s.bodyStart < end {
			s.release.Notes = stripLinkDefinitions(string(source[s.bodyStart:end]))
		}

		if strings.EqualFold(s.release.Version, "unreleased") {
			if c.Unreleased == nil {
				unreleased := s.release
				c.Unreleased = &unreleased
			}
			continue
		}
		c.Releases = append(c.Releases, s.release)
	}

	return c, nil
}

// stripLinkDefinitions drops reference-style link definition lines from a
// section body.
func stripLinkDefinitions(body string) string {
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		if !linkDefLine.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func lineAt(source []byte, offset int) int {
	return bytes.Count(source[:offset], []byte("\n")) + 1
}

func lineStart(source []byte, offset int) int {
	return bytes.LastIndexByte(source[:offset], '\n') + 1
}

// headingText flattens a heading node to plain text, unwrapping links.
func headingText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			if textNode, ok := child.(*ast.Text); ok {
				buf.Write(textNode.Segment.Value(source))
				continue
			}
			walk(child)
		}
	}
	walk(node)
	return buf.String()
}

// splitVersionHeading takes a heading like "[4.3.0] - 2026-08-11" apart into
// version and date. The bare "4.3.0 - 2026-08-11" form is accepted too.
func splitVersionHeading(heading string) (version, date string) {
	heading = strings.TrimSpace(heading)

	if strings.HasPrefix(heading, "[") {
		heading = strings.TrimPrefix(heading, "[")
		if idx := strings.Index(heading, "]"); idx != -1 {
			version = heading[:idx]
			rest := strings.TrimSpace(heading[idx+1:])
			date = strings.TrimSpace(strings.TrimPrefix(rest, "-"))
			return version, date
		}
	}
	if idx := strings.Index(heading, " - "); idx != -1 {
		return strings.TrimSpace(heading[:idx]), strings.TrimSpace(heading[idx+3:])
	}
	return heading, ""
}
