package merge

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	titlePattern   = regexp.MustCompile(`(?s)<h1[^>]*>.*?</h1>`)
	sectionPattern = regexp.MustCompile(`SECTION [IVXLC]+ - [A-Z][A-Z0-9,&/]*(?: [A-Z][A-Z0-9,&/]+)*`)
)

// Markers are the singleton structural elements of a document body: the
// title heading and each named top-level section marker. They are derived
// from the body as it was before merging, so a merge that duplicates or
// drops one is visible afterward.
type Markers struct {
	Title    string
	Sections []string
}

func DeriveMarkers(body string) Markers {
	var markers Markers

	if title := titlePattern.FindString(body); title != "" {
		markers.Title = title
	}

	seen := map[string]bool{}
	for _, section := range sectionPattern.FindAllString(body, -1) {
		section = strings.TrimSpace(section)
		if !seen[section] {
			seen[section] = true
			markers.Sections = append(markers.Sections, section)
		}
	}
	return markers
}

// Verify counts each marker in content and reports every count that is not
// exactly 1. Warnings are advisory; the caller decides whether to commit.
func (m Markers) Verify(content string) []string {
	var warnings []string

	if m.Title != "" {
		if n := strings.Count(content, m.Title); n != 1 {
			warnings = append(warnings, fmt.Sprintf("document title %q appears %d times, want exactly 1", m.Title, n))
		}
	}
	for _, section := range m.Sections {
		if n := strings.Count(content, section); n != 1 {
			warnings = append(warnings, fmt.Sprintf("section marker %q appears %d times, want exactly 1", section, n))
		}
	}
	return warnings
}
