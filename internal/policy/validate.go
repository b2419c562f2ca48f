// Package policy checks generated objection text against the content rules
// a council submission has to satisfy. Validation never returns an error
// for well-formed input; every problem is reported as a violation or a
// warning on the outcome.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

type Status string

const (
	StatusPass     Status = "pass"
	StatusRejected Status = "rejected"
)

// Rule identifiers, stable for operator display and tests.
const (
	RuleWordLimit      = "word_limit"
	RuleForbidden      = "forbidden_pattern"
	RuleLinkAllowList  = "link_allowlist"
	RuleLowUtilization = "low_utilization"
	RuleMeasurement    = "measurement_fidelity"
)

type Violation struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Outcome is the result of one validation pass. SanitizedText is only
// meaningful when Status is pass; rejected text never reaches the
// formatter. Warnings are surfaced to operators but do not reject.
type Outcome struct {
	Status        Status
	SanitizedText string
	Violations    []Violation
	Warnings      []Violation
}

// Constraints parameterizes a validation pass. Zero values get defaults
// from the caller's config; this package applies no ambient configuration.
type Constraints struct {
	// WordLimit is the hard upper bound on total words.
	WordLimit int

	// SoftMinRatio warns when the text uses less than this fraction of the
	// word limit.
	SoftMinRatio float64

	// AllowedLinks is the hyperlink allow-list (prefix match). Empty means
	// no links are allowed.
	AllowedLinks []string

	// ExtraForbiddenPhrases extends the built-in banned phrase list.
	ExtraForbiddenPhrases []string

	// SourceConcerns is the concern text the generation was grounded on,
	// used for the measurement fidelity spot-check.
	SourceConcerns []string
}

// Phrases that indicate fabricated external research. Their presence is a
// policy violation (hallucination), not a style problem, so they reject
// rather than being stripped.
var fabricationPhrases = []string{
	"studies show",
	"studies have shown",
	"research shows",
	"research indicates",
	"experts suggest",
	"experts agree",
	"according to research",
	"statistics show",
	"it is well documented",
}

// Banned stylistic markers that read as machine-written.
var bannedRhetoric = []string{
	"in conclusion, it is clear that",
	"it goes without saying",
	"needless to say",
	"in today's fast-paced world",
}

var (
	linkRe = regexp.MustCompile(`https?://[^\s<>()"']+`)
	// measurementRe matches numeric measurements with a unit, e.g.
	// "12,600 m³", "42 dB", "8.5 m". These must survive generation intact.
	measurementRe = regexp.MustCompile(`\d[\d,.]*\s?(?:m³|m3|m²|m2|sqm|ha|km|kL|dB|storeys|metres|meters|vehicles)`)
)

// Validate sanitizes and rule-checks a candidate text. It never fails for
// well-formed input; rejection and warnings travel on the Outcome.
func Validate(text string, c Constraints) Outcome {
	sanitized := Sanitize(text)

	out := Outcome{Status: StatusPass, SanitizedText: sanitized}
	reject := func(rule, detail string) {
		out.Status = StatusRejected
		out.Violations = append(out.Violations, Violation{Rule: rule, Detail: detail})
	}
	warn := func(rule, detail string) {
		out.Warnings = append(out.Warnings, Violation{Rule: rule, Detail: detail})
	}

	words := len(strings.Fields(sanitized))
	if c.WordLimit > 0 {
		if words > c.WordLimit {
			reject(RuleWordLimit, fmt.Sprintf("%d words exceeds the limit of %d", words, c.WordLimit))
		} else if c.SoftMinRatio > 0 && float64(words) < c.SoftMinRatio*float64(c.WordLimit) {
			warn(RuleLowUtilization, fmt.Sprintf("%d words uses under %.0f%% of the %d word limit", words, c.SoftMinRatio*100, c.WordLimit))
		}
	}

	lower := strings.ToLower(sanitized)
	for _, phrase := range fabricationPhrases {
		if strings.Contains(lower, phrase) {
			reject(RuleForbidden, fmt.Sprintf("fabricated research marker %q", phrase))
		}
	}
	for _, phrase := range bannedRhetoric {
		if strings.Contains(lower, phrase) {
			reject(RuleForbidden, fmt.Sprintf("banned phrase %q", phrase))
		}
	}
	for _, phrase := range c.ExtraForbiddenPhrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p != "" && strings.Contains(lower, p) {
			reject(RuleForbidden, fmt.Sprintf("banned phrase %q", phrase))
		}
	}
	if strings.ContainsRune(sanitized, '—') {
		reject(RuleForbidden, "em-dash in output")
	}
	if emoji := firstEmoji(sanitized); emoji != "" {
		reject(RuleForbidden, fmt.Sprintf("emoji %q in output", emoji))
	}

	for _, link := range linkRe.FindAllString(sanitized, -1) {
		if !linkAllowed(link, c.AllowedLinks) {
			reject(RuleLinkAllowList, fmt.Sprintf("link %q is not on the allow-list", link))
		}
	}

	for _, src := range c.SourceConcerns {
		for _, m := range measurementRe.FindAllString(src, -1) {
			if !strings.Contains(sanitized, m) {
				// Best-effort: exact AI fidelity cannot be guaranteed, so
				// this is an operator warning, not a rejection.
				warn(RuleMeasurement, fmt.Sprintf("source measurement %q missing from output", m))
			}
		}
	}

	return out
}

func linkAllowed(link string, allowed []string) bool {
	link = strings.TrimRight(link, ".,;:")
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a != "" && strings.HasPrefix(link, a) {
			return true
		}
	}
	return false
}

func firstEmoji(s string) string {
	for _, r := range s {
		if isEmoji(r) {
			return string(r)
		}
	}
	return ""
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, transport, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0xFE0F: // variation selector used by emoji sequences
		return true
	}
	return false
}
