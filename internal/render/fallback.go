package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/councilworks/objector/internal/document"
	"github.com/go-pdf/fpdf"
)

// PDFEngine is the fallback engine: a pure-Go PDF writer with no external
// process. Plainer typography than the primary engine, but it always
// succeeds for valid input and paginates with "Page X of Y".
type PDFEngine struct{}

func NewPDFEngine() *PDFEngine { return &PDFEngine{} }

func (e *PDFEngine) Name() string { return "fpdf" }

func (e *PDFEngine) Render(ctx context.Context, doc document.Document) ([]byte, int, error) {
	if e == nil {
		return nil, 0, errors.New("nil engine")
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title(), true)
	pdf.SetMargins(20, 18, 20)
	pdf.SetAutoPageBreak(true, 22)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-16)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	w := &pdfWriter{pdf: pdf, tr: tr}
	for _, s := range doc.Fixed {
		switch s.Type {
		case document.SectionHeader:
			w.heading(1, s.Content)
		case document.SectionLabel:
			w.label(s.Content)
		case document.SectionValue:
			if strings.TrimSpace(s.Content) != "" {
				w.value(s.Content)
			}
		case document.SectionDeclaration:
			for _, g := range doc.OrderedGrounds() {
				w.heading(2, fmt.Sprintf("%d. %s", g.Number, g.Heading))
				w.markdown(g.Body)
			}
			w.declaration(s.Content)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, 0, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), pdf.PageCount(), nil
}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *pdfWriter) heading(level int, text string) {
	size := 16.0
	switch level {
	case 2:
		size = 13
	case 3:
		size = 11.5
	}
	w.pdf.Ln(3)
	w.pdf.SetFont("Helvetica", "B", size)
	w.pdf.MultiCell(0, size*0.55, w.tr(strings.TrimSpace(text)), "", "L", false)
	w.pdf.Ln(1.5)
}

func (w *pdfWriter) label(text string) {
	w.pdf.Ln(2)
	w.pdf.SetFont("Helvetica", "B", 11)
	w.pdf.MultiCell(0, 6, w.tr(strings.TrimSpace(text)+":"), "", "L", false)
}

func (w *pdfWriter) value(text string) {
	w.pdf.SetFont("Helvetica", "", 11)
	w.pdf.SetX(w.pdf.GetX() + 6)
	w.pdf.MultiCell(0, 6, w.tr(strings.TrimSpace(text)), "", "L", false)
	w.pdf.SetX(w.pdf.GetX() - 6)
}

func (w *pdfWriter) paragraph(text string) {
	w.pdf.SetFont("Helvetica", "", 11)
	w.pdf.MultiCell(0, 6, w.tr(strings.TrimSpace(text)), "", "L", false)
	// Blank space between paragraphs keeps structure visible; collapsing
	// paragraphs into one block is exactly the regression this guards.
	w.pdf.Ln(3)
}

func (w *pdfWriter) bullet(text string) {
	w.pdf.SetFont("Helvetica", "", 11)
	x := w.pdf.GetX()
	w.pdf.SetX(x + 4)
	w.pdf.MultiCell(0, 6, w.tr("• "+strings.TrimSpace(text)), "", "L", false)
	w.pdf.SetX(x)
}

func (w *pdfWriter) declaration(text string) {
	w.pdf.Ln(4)
	w.pdf.SetFont("Helvetica", "I", 11)
	w.pdf.MultiCell(0, 6, w.tr(strings.TrimSpace(text)), "", "L", false)
	w.pdf.Ln(3)
}

// markdown lays out the small markdown subset the grounds bodies use:
// #/##/### headings, -/* bullets, blank-line separated paragraphs.
func (w *pdfWriter) markdown(md string) {
	var para []string
	flush := func() {
		if len(para) > 0 {
			w.paragraph(strings.Join(para, " "))
			para = nil
		}
	}
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "### "):
			flush()
			w.heading(3, strings.TrimPrefix(trimmed, "### "))
		case strings.HasPrefix(trimmed, "## "):
			flush()
			w.heading(3, strings.TrimPrefix(trimmed, "## "))
		case strings.HasPrefix(trimmed, "# "):
			flush()
			w.heading(2, strings.TrimPrefix(trimmed, "# "))
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			flush()
			w.bullet(trimmed[2:])
		default:
			para = append(para, trimmed)
		}
	}
	flush()
}
