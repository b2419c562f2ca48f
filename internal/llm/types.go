package llm

import (
	"context"
	"errors"
	"fmt"
)

// Metadata carries the submission context a generation request is built for.
// It is used for prompting and audit only; the formatter re-reads these
// values from the record store, never from generated output.
type Metadata struct {
	Recipient         string
	Subject           string
	ApplicationNumber string
	SiteAddress       string
	// Track is the assessment track of the application (e.g. "local", "regional").
	Track string
}

// Concern is one selected talking point, in the submitter's chosen order.
type Concern struct {
	Key      string
	FullText string
}

// Request is an immutable generation request. Build a fresh value per
// attempt; the orchestrator never mutates it.
type Request struct {
	Meta          Metadata
	ApprovedFacts string
	Concerns      []Concern
	// StyleSample is an optional writing sample from the submitter.
	StyleSample string
	// StyleMode is "tone" (sample guides phrasing only) or "verbatim"
	// (sample is appended to the output).
	StyleMode string
	WordLimit int
}

// Result is the normalized output of a successful generation.
type Result struct {
	// ProviderID identifies which configured provider produced the text.
	ProviderID string
	ModelID    string
	RawText    string

	PromptTokens     int64
	CompletionTokens int64

	// Attempts counts every provider call made for this request, across
	// all providers, including the successful one.
	Attempts int
}

// Output is the raw, provider-shaped response before field extraction.
type Output struct {
	ModelID string
	// RawJSON is the structured payload returned by the provider. The
	// orchestrator extracts the usable text field from it.
	RawJSON string

	PromptTokens     int64
	CompletionTokens int64
}

// Provider is a single text-generation backend. Adapters translate the
// vendor SDK surface into this one method.
type Provider interface {
	ID() string
	Generate(ctx context.Context, p Prompt) (Output, error)
}

// Prompt is the provider-independent prompt shape.
type Prompt struct {
	System string
	User   string
}

// ErrAllProvidersExhausted is returned when every configured provider has
// failed after its retry budget.
var ErrAllProvidersExhausted = errors.New("all generation providers exhausted")

// ProviderError wraps a failed provider call with retry classification.
// Transient covers network errors, 5xx/429 responses and malformed payloads;
// permanent covers auth and request-shape errors that a retry cannot fix.
type ProviderError struct {
	ProviderID string
	Status     int
	Transient  bool
	Parse      bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Parse {
		kind = "parse"
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.ProviderID, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func transientStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == 408 || code == 429
}
