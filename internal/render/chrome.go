package render

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/councilworks/objector/internal/document"
)

const defaultAttemptTimeout = 9 * time.Second

// ChromeEngine is the primary engine: one shared headless browser reused
// across requests. A mutex serializes renders on the instance so that
// concurrent load cannot spawn a browser per request; that per-request
// spawning pattern is exactly the resource exhaustion this engine exists
// to avoid. The browser is launched lazily and relaunched after a crash.
type ChromeEngine struct {
	execPath string
	timeout  time.Duration

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

type ChromeOptions struct {
	// ExecPath overrides chromedp's Chrome binary lookup.
	ExecPath string

	// AttemptTimeout is the hard per-render timeout. Defaults to 9s.
	AttemptTimeout time.Duration
}

func NewChromeEngine(opts ChromeOptions) *ChromeEngine {
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	return &ChromeEngine{
		execPath: strings.TrimSpace(opts.ExecPath),
		timeout:  timeout,
	}
}

func (e *ChromeEngine) Name() string { return "chrome" }

func (e *ChromeEngine) Render(ctx context.Context, doc document.Document) ([]byte, int, error) {
	if e == nil {
		return nil, 0, errors.New("nil engine")
	}
	html, err := documentHTML(doc)
	if err != nil {
		return nil, 0, err
	}

	// One render at a time on the shared instance.
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureBrowserLocked(); err != nil {
		return nil, 0, err
	}

	pdf, err := e.printLocked(ctx, html)
	if err != nil {
		// The browser may have crashed or hung past the timeout; drop the
		// instance so the next render relaunches cleanly.
		e.shutdownLocked()
		return nil, 0, err
	}

	pages := countPDFPages(pdf)
	if pages < 1 {
		pages = 1
	}
	return pdf, pages, nil
}

// Close releases the shared browser. Safe to call multiple times.
func (e *ChromeEngine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdownLocked()
}

func (e *ChromeEngine) ensureBrowserLocked() error {
	if e.browserCtx != nil && e.browserCtx.Err() == nil {
		return nil
	}
	e.shutdownLocked()

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if e.execPath != "" {
		opts = append(opts, chromedp.ExecPath(e.execPath))
	}
	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	e.browserCtx, e.browserStop = chromedp.NewContext(e.allocCtx)

	// Start the browser now so launch failures surface here, not mid-render.
	startCtx, cancel := context.WithTimeout(e.browserCtx, e.timeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		e.shutdownLocked()
		return fmt.Errorf("launch browser: %w", err)
	}
	return nil
}

func (e *ChromeEngine) shutdownLocked() {
	if e.browserStop != nil {
		e.browserStop()
		e.browserStop = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.browserCtx = nil
	e.allocCtx = nil
}

func (e *ChromeEngine) printLocked(ctx context.Context, html string) ([]byte, error) {
	// Fresh tab per render, bounded by both the caller's context and the
	// per-attempt timeout.
	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()
	runCtx, cancel := context.WithTimeout(tabCtx, e.timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(runCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<span></span>`).
				WithFooterTemplate(pdfFooterTemplate).
				WithMarginTop(0.55).
				WithMarginBottom(0.7).
				WithMarginLeft(0.7).
				WithMarginRight(0.7).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	if len(pdf) == 0 {
		return nil, errors.New("print to pdf: empty output")
	}
	return pdf, nil
}

// pdfFooterTemplate emits "Page X of Y" via Chrome's print substitution
// classes.
const pdfFooterTemplate = `<div style="font-size:8pt; width:100%; text-align:center; font-family: Georgia, serif;">Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`

var pageObjRe = regexp.MustCompile(`/Type\s*/Page[^s]`)

// countPDFPages counts page objects in the raw PDF. Chrome's generator
// keeps the page tree uncompressed, so a structural scan is sufficient.
func countPDFPages(pdf []byte) int {
	return len(pageObjRe.FindAll(pdf, -1))
}
