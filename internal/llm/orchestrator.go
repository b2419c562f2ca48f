package llm

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Orchestrator walks the provider chain in priority order. Each provider
// gets its own retry budget for transient and parse failures; once that
// budget is spent the provider is abandoned for the request and the next
// one is tried. Attempts are strictly sequential, never parallel.
type Orchestrator struct {
	providers []Provider
	retries   int
	backoff   time.Duration
	timeout   time.Duration
	mock      bool

	log *slog.Logger

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

type OrchestratorOptions struct {
	Logger *slog.Logger

	// Providers in priority order. Ignored when Mock is set.
	Providers []Provider

	// RetriesPerProvider is the retry count after the first attempt.
	// If < 0, no retries; if 0, the default (2) is used.
	RetriesPerProvider int

	// Backoff is the base delay between attempts within one provider.
	Backoff time.Duration

	// Timeout bounds a single provider call.
	Timeout time.Duration

	// Mock selects the deterministic local generator.
	Mock bool
}

const (
	defaultRetriesPerProvider = 2
	defaultBackoff            = 1500 * time.Millisecond
	defaultTimeout            = 60 * time.Second
)

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if !opts.Mock && len(opts.Providers) == 0 {
		return nil, errors.New("no providers configured")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	retries := opts.RetriesPerProvider
	if retries == 0 {
		retries = defaultRetriesPerProvider
	}
	if retries < 0 {
		retries = 0
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Orchestrator{
		providers: opts.Providers,
		retries:   retries,
		backoff:   backoff,
		timeout:   timeout,
		mock:      opts.Mock,
		log:       logger,
		sleep:     time.Sleep,
	}, nil
}

// Generate produces normalized text for the request, or
// ErrAllProvidersExhausted once every provider has failed past its budget.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	if o == nil {
		return Result{}, errors.New("nil orchestrator")
	}
	if o.mock {
		res := MockResult(req)
		o.log.Info("generation complete",
			"provider", res.ProviderID,
			"model", res.ModelID,
			"attempts", res.Attempts,
			"completion_tokens", res.CompletionTokens)
		return res, nil
	}

	prompt := BuildPrompt(req)
	attempts := 0
	var lastErr error

	for _, provider := range o.providers {
		budget := o.retries + 1
		for try := 1; try <= budget; try++ {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			attempts++

			out, err := o.callProvider(ctx, provider, prompt)
			if err == nil {
				text, extractErr := extractText(out.RawJSON)
				if extractErr == nil {
					o.log.Info("generation complete",
						"provider", provider.ID(),
						"model", out.ModelID,
						"attempts", attempts,
						"prompt_tokens", out.PromptTokens,
						"completion_tokens", out.CompletionTokens)
					return Result{
						ProviderID:       provider.ID(),
						ModelID:          out.ModelID,
						RawText:          text,
						PromptTokens:     out.PromptTokens,
						CompletionTokens: out.CompletionTokens,
						Attempts:         attempts,
					}, nil
				}
				// Missing usable text field: retried like a transport
				// failure, but logged distinctly for drift diagnosis.
				err = &ProviderError{ProviderID: provider.ID(), Transient: true, Parse: true, Err: extractErr}
			}

			lastErr = err
			var perr *ProviderError
			transient := errors.As(err, &perr) && perr.Transient
			parse := perr != nil && perr.Parse

			o.log.Warn("generation attempt failed",
				"provider", provider.ID(),
				"try", try,
				"of", budget,
				"transient", transient,
				"parse", parse,
				"error", err)

			if !transient {
				// Permanent (auth, request shape): no point retrying this provider.
				break
			}
			if try < budget {
				o.sleep(o.backoff * time.Duration(try))
			}
		}
		o.log.Warn("provider abandoned", "provider", provider.ID(), "error", lastErr)
	}

	if lastErr != nil {
		return Result{}, errors.Join(ErrAllProvidersExhausted, lastErr)
	}
	return Result{}, ErrAllProvidersExhausted
}

func (o *Orchestrator) callProvider(ctx context.Context, p Provider, prompt Prompt) (Output, error) {
	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return p.Generate(cctx, prompt)
}

// extractText pulls the usable text field out of a provider payload.
// Providers are instructed to return {"final_text": ...}; drifted responses
// that use "body" instead are accepted. Anything else is a parse failure.
func extractText(raw string) (string, error) {
	raw = stripFences(raw)
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("empty provider payload")
	}
	if !gjson.Valid(raw) {
		return "", errors.New("provider payload is not valid JSON")
	}
	if v := gjson.Get(raw, promptPrimaryField); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
		return strings.TrimSpace(v.String()), nil
	}
	if v := gjson.Get(raw, promptSecondaryField); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
		return strings.TrimSpace(v.String()), nil
	}
	return "", errors.New("no usable text field in provider payload")
}

// stripFences removes a surrounding markdown code fence, which some models
// wrap around JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
