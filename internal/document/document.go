// Package document builds the canonical submission document: fixed
// structural sections merged with the generated grounds body and the
// submitter's own grounds. Formatting is pure and deterministic; nothing
// here touches the network or the clock.
package document

import "strings"

type SectionType string

const (
	SectionHeader      SectionType = "header"
	SectionLabel       SectionType = "label"
	SectionValue       SectionType = "value"
	SectionDeclaration SectionType = "declaration"
)

// Section is one fixed block of the document. Editable marks fields the
// submitter may change (their own details, the signature line); sections
// derived from property or application identifiers are never editable.
type Section struct {
	Type     SectionType
	Editable bool
	Content  string
}

// Metadata is the submission context the fixed sections are built from.
// Values come from the record store, never from generated output.
type Metadata struct {
	CouncilName       string
	RecipientEmail    string
	ApplicationNumber string
	SiteAddress       string

	SubmitterName    string
	SubmitterAddress string
	SubmitterEmail   string
}

// Document is the canonical submission body. Fixed sections are rebuilt
// verbatim from metadata on every format call; GroundsBody and
// CustomGrounds carry the editable objection content.
type Document struct {
	Fixed []Section

	// GroundsBody is the validated, generated grounds text (markdown).
	GroundsBody string

	// CustomGrounds is the submitter's own free-text ground, if any.
	CustomGrounds string

	title       string
	declaration string
}

// Ground is one numbered ground in presentation order.
type Ground struct {
	Number  int
	Heading string
	Body    string
}

// OrderedGrounds returns the grounds in the order they are rendered: the
// submitter's own words first, so they can confirm they were honored, then
// the generated body.
func (d Document) OrderedGrounds() []Ground {
	var out []Ground
	n := 0
	if strings.TrimSpace(d.CustomGrounds) != "" {
		n++
		out = append(out, Ground{Number: n, Heading: "Grounds raised in my own words", Body: strings.TrimSpace(d.CustomGrounds)})
	}
	if strings.TrimSpace(d.GroundsBody) != "" {
		n++
		out = append(out, Ground{Number: n, Heading: "Grounds of objection", Body: strings.TrimSpace(d.GroundsBody)})
	}
	return out
}

// Declaration returns the closing declaration text.
func (d Document) Declaration() string { return d.declaration }

// Title is the document title used by both render engines.
func (d Document) Title() string { return d.title }
