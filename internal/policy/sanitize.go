package policy

import (
	"html"
	"regexp"
	"strings"
)

var (
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	trailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// Sanitize normalizes whitespace and entities without destroying paragraph
// structure. Newlines are never folded into spaces; only runs of spaces and
// tabs collapse to one space, trailing whitespace is stripped, and runs of
// blank lines are capped at one. Idempotent.
func Sanitize(s string) string {
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	s = strings.TrimRight(s, " \t\n")
	s = strings.TrimLeft(s, "\n")
	return s
}
