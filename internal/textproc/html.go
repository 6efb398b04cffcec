package textproc

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacesPattern = regexp.MustCompile(`[ \t]+`)
)

// htmlStrip drops markup from feed-provided rich text: tags removed, entities
// decoded, runs of spaces collapsed.
func htmlStrip(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spacesPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
