package document

import (
	"fmt"
	"strings"
)

// DefaultDeclaration is the closing boilerplate used when a project does
// not configure its own wording. The wording is fixed; only the signature
// fields around it are editable.
const DefaultDeclaration = "I declare that the grounds set out above are my genuine concerns about this application, that I have read and understood them, and that I have not received and will not receive any benefit for making this submission."

// Format merges fixed metadata, the validated grounds body, and the
// submitter's custom grounds into a Document.
//
// Fixed sections are emitted verbatim from metadata and are never
// influenced by generated output or user free text; re-running Format with
// an edited grounds body but unchanged metadata reproduces byte-identical
// fixed sections. This round-trip property is what lets submitters revise
// grounds without risking the legal boilerplate or property identifiers.
func Format(meta Metadata, groundsBody, customGrounds, declarationTemplate string) Document {
	decl := strings.TrimSpace(declarationTemplate)
	if decl == "" {
		decl = DefaultDeclaration
	}

	fixed := []Section{
		{Type: SectionHeader, Content: fmt.Sprintf("Objection to development application %s", strings.TrimSpace(meta.ApplicationNumber))},

		{Type: SectionLabel, Content: "To"},
		{Type: SectionValue, Content: strings.TrimSpace(meta.CouncilName)},
		{Type: SectionValue, Content: strings.TrimSpace(meta.RecipientEmail)},

		{Type: SectionLabel, Content: "Application number"},
		{Type: SectionValue, Content: strings.TrimSpace(meta.ApplicationNumber)},

		{Type: SectionLabel, Content: "Site address"},
		{Type: SectionValue, Content: strings.TrimSpace(meta.SiteAddress)},

		{Type: SectionLabel, Content: "Submitted by"},
		{Type: SectionValue, Editable: true, Content: strings.TrimSpace(meta.SubmitterName)},
		{Type: SectionValue, Editable: true, Content: strings.TrimSpace(meta.SubmitterAddress)},
		{Type: SectionValue, Editable: true, Content: strings.TrimSpace(meta.SubmitterEmail)},

		{Type: SectionDeclaration, Content: decl},
		{Type: SectionLabel, Content: "Signed"},
		{Type: SectionValue, Editable: true, Content: strings.TrimSpace(meta.SubmitterName)},
	}

	return Document{
		Fixed:         fixed,
		GroundsBody:   strings.TrimSpace(groundsBody),
		CustomGrounds: strings.TrimSpace(customGrounds),
		title:         fixed[0].Content,
		declaration:   decl,
	}
}

// PlainText renders the whole document as plain text, in presentation
// order. Used for the email body and for tests; the PDF engines have their
// own renderers.
func (d Document) PlainText() string {
	var b strings.Builder
	for _, s := range d.Fixed {
		switch s.Type {
		case SectionHeader:
			b.WriteString(s.Content)
			b.WriteString("\n\n")
		case SectionLabel:
			b.WriteString(s.Content)
			b.WriteString(":\n")
		case SectionValue:
			if strings.TrimSpace(s.Content) != "" {
				b.WriteString("  ")
				b.WriteString(s.Content)
				b.WriteString("\n")
			}
		case SectionDeclaration:
			// Grounds sit between the submitter block and the declaration.
			b.WriteString("\n")
			for _, g := range d.OrderedGrounds() {
				fmt.Fprintf(&b, "%d. %s\n\n%s\n\n", g.Number, g.Heading, g.Body)
			}
			b.WriteString(s.Content)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
