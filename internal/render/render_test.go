package render

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/councilworks/objector/internal/document"
)

type stubEngine struct {
	name  string
	calls int
	pdf   []byte
	pages int
	err   error
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Render(context.Context, document.Document) ([]byte, int, error) {
	s.calls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.pdf, s.pages, nil
}

func testDoc() document.Document {
	return document.Format(document.Metadata{
		CouncilName:       "Northbrook City Council",
		RecipientEmail:    "submissions@northbrook.example.gov",
		ApplicationNumber: "DA-2025/0412",
		SiteAddress:       "14 Quarry Road, Northbrook",
		SubmitterName:     "Alex Rivera",
		SubmitterAddress:  "9 Hill Street, Northbrook",
		SubmitterEmail:    "alex@example.com",
	},
		"## Grounds of objection\n\n### 1. Bulk excavation\n\nThe proposal involves 12,600 m³ of cut.\n\nThe haulage route passes a school.\n\n- Dust\n- Noise",
		"TEST_CUSTOM_123",
		"")
}

func newTestRenderer(t *testing.T, primary, fallback Engine) *Renderer {
	t.Helper()
	r, err := NewRenderer(RendererOptions{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Primary:  primary,
		Fallback: fallback,
	})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return r
}

func TestRenderer_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &stubEngine{name: "chrome", pdf: []byte("%PDF-primary"), pages: 2}
	fallback := &stubEngine{name: "fpdf", pdf: []byte("%PDF-fallback"), pages: 1}
	r := newTestRenderer(t, primary, fallback)

	a, err := r.Render(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a.Engine != EnginePrimary {
		t.Fatalf("Engine=%q, want primary", a.Engine)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback called despite primary success")
	}
}

func TestRenderer_FallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := &stubEngine{name: "chrome", err: errors.New("browser crashed")}
	fallback := &stubEngine{name: "fpdf", pdf: []byte("%PDF-fallback"), pages: 3}
	r := newTestRenderer(t, primary, fallback)

	a, err := r.Render(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a.Engine != EngineFallback {
		t.Fatalf("Engine=%q, want fallback", a.Engine)
	}
	if a.PageCount < 1 {
		t.Fatalf("PageCount=%d, want >= 1", a.PageCount)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls: primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestRenderer_BothEnginesFail(t *testing.T) {
	t.Parallel()

	primary := &stubEngine{name: "chrome", err: errors.New("timeout")}
	fallback := &stubEngine{name: "fpdf", err: errors.New("bad input")}
	r := newTestRenderer(t, primary, fallback)

	_, err := r.Render(context.Background(), testDoc())
	if !errors.Is(err, ErrRenderingFailed) {
		t.Fatalf("err=%v, want ErrRenderingFailed", err)
	}
}

func TestRenderer_NoPrimaryConfigured(t *testing.T) {
	t.Parallel()

	fallback := &stubEngine{name: "fpdf", pdf: []byte("%PDF-fallback"), pages: 1}
	r := newTestRenderer(t, nil, fallback)

	a, err := r.Render(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a.Engine != EngineFallback {
		t.Fatalf("Engine=%q, want fallback", a.Engine)
	}
}

func TestPDFEngine_RendersRealPDF(t *testing.T) {
	t.Parallel()

	e := NewPDFEngine()
	pdf, pages, err := e.Render(context.Background(), testDoc())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF (starts %q)", pdf[:8])
	}
	if pages < 1 {
		t.Fatalf("pages=%d, want >= 1", pages)
	}
}

func TestDocumentHTML_StructurePreserved(t *testing.T) {
	t.Parallel()

	html, err := documentHTML(testDoc())
	if err != nil {
		t.Fatalf("documentHTML: %v", err)
	}
	for _, want := range []string{
		"<h1>", "<h2>", "<h3>", // three heading levels
		"<ul>", "<li>", // list rendering
		"TEST_CUSTOM_123",
		"12,600 m³",
		"DA-2025/0412",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
	// Multi-paragraph content must stay multiple blocks.
	if strings.Count(html, "<p>") < 2 {
		t.Fatalf("paragraph structure collapsed:\n%s", html)
	}
	ci := strings.Index(html, "TEST_CUSTOM_123")
	gi := strings.Index(html, "Bulk excavation")
	if ci < 0 || gi < 0 || ci > gi {
		t.Fatalf("custom grounds not ahead of generated grounds")
	}
}

func TestCountPDFPages(t *testing.T) {
	t.Parallel()

	raw := []byte("1 0 obj << /Type /Pages /Count 2 >>\n2 0 obj << /Type /Page >>\n3 0 obj << /Type /Page >>")
	if got := countPDFPages(raw); got != 2 {
		t.Fatalf("countPDFPages=%d, want 2", got)
	}
}
