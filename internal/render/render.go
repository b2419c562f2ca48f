// Package render turns a submission document into a PDF artifact. A
// heavyweight headless-Chrome engine gives full typography; a pure-Go
// engine is the fallback that always succeeds given valid input.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/councilworks/objector/internal/document"
)

type EngineKind string

const (
	EnginePrimary  EngineKind = "primary"
	EngineFallback EngineKind = "fallback"
)

// ErrRenderingFailed is returned only when both engines fail.
var ErrRenderingFailed = errors.New("rendering failed")

// Artifact is the rendered PDF. Immutable; produced once per finalize.
type Artifact struct {
	PDF       []byte
	MIMEType  string
	PageCount int
	Engine    EngineKind
}

// Engine renders one document to PDF bytes plus a page count.
type Engine interface {
	Name() string
	Render(ctx context.Context, doc document.Document) ([]byte, int, error)
}

// Renderer tries the primary engine first and falls back on any failure or
// timeout. With no primary configured it goes straight to the fallback.
type Renderer struct {
	primary  Engine
	fallback Engine
	log      *slog.Logger
}

type RendererOptions struct {
	Logger *slog.Logger

	// Primary may be nil (e.g. no Chrome on the host).
	Primary Engine

	// Fallback must not be nil.
	Fallback Engine
}

func NewRenderer(opts RendererOptions) (*Renderer, error) {
	if opts.Fallback == nil {
		return nil, errors.New("missing fallback engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Renderer{primary: opts.Primary, fallback: opts.Fallback, log: logger}, nil
}

func (r *Renderer) Render(ctx context.Context, doc document.Document) (Artifact, error) {
	if r == nil {
		return Artifact{}, errors.New("nil renderer")
	}

	var primaryErr error
	if r.primary != nil {
		pdf, pages, err := r.primary.Render(ctx, doc)
		if err == nil {
			return Artifact{PDF: pdf, MIMEType: "application/pdf", PageCount: pages, Engine: EnginePrimary}, nil
		}
		primaryErr = err
		r.log.Warn("primary render engine failed, falling back",
			"engine", r.primary.Name(), "error", err)
	}

	pdf, pages, err := r.fallback.Render(ctx, doc)
	if err != nil {
		r.log.Error("fallback render engine failed",
			"engine", r.fallback.Name(), "error", err)
		if primaryErr != nil {
			return Artifact{}, errors.Join(ErrRenderingFailed, fmt.Errorf("primary: %w", primaryErr), fmt.Errorf("fallback: %w", err))
		}
		return Artifact{}, errors.Join(ErrRenderingFailed, fmt.Errorf("fallback: %w", err))
	}
	return Artifact{PDF: pdf, MIMEType: "application/pdf", PageCount: pages, Engine: EngineFallback}, nil
}
