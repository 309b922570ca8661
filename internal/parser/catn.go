package parser

import (
	"regexp"
	"strings"
)

// catNLineRe matches one line of the Read tool's numbered
// rendering: optional padding, the line number, then an arrow or
// a tab separating it from the original line.
var catNLineRe = regexp.MustCompile(`^\s*(\d+)(?:→|\t)(.*)$`)

// lineNumberArtifactRe matches a numbered line anywhere in a
// multi-line string.
var lineNumberArtifactRe = regexp.MustCompile(`(?m)^\s*\d+→`)

// StripLineNumbers recovers file content from a numbered Read
// rendering. Unnumbered lines before the body are ignored and
// capture stops at the first unnumbered line after it, which drops
// trailers the tool appends. Returns false when no numbered line
// was found.
func StripLineNumbers(rendered string) (string, bool) {
	var lines []string
	for line := range strings.SplitSeq(rendered, "\n") {
		m := catNLineRe.FindStringSubmatch(
			strings.TrimSuffix(line, "\r"),
		)
		if m == nil {
			if len(lines) > 0 {
				break
			}
			continue
		}
		lines = append(lines, m[2])
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// HasLineNumberArtifact reports whether content still carries the
// Read tool's numbering on any line.
func HasLineNumberArtifact(content string) bool {
	return lineNumberArtifactRe.MatchString(content)
}
