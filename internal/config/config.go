package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for objector.
//
// NOTE: This file contains secrets (provider API keys, SMTP password).
// Always keep it chmod 0600.
type Config struct {
	// StateDir is the directory for the delivery database, the operator
	// event log, and the daemon lockfile.
	// If empty, ~/.objector is used.
	StateDir string `json:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`

	Generation GenerationConfig `json:"generation"`
	Validation ValidationConfig `json:"validation"`
	Render     RenderConfig     `json:"render"`
	Delivery   DeliveryConfig   `json:"delivery"`
}

// GenerationConfig controls the provider chain and its retry budgets.
type GenerationConfig struct {
	// Providers is the priority-ordered provider list. The orchestrator
	// tries them front to back; order here is the fallback order.
	Providers []ProviderConfig `json:"providers"`

	// RetriesPerProvider is the number of retries after the first attempt
	// before the orchestrator abandons a provider. Defaults to 2.
	RetriesPerProvider int `json:"retries_per_provider,omitempty"`

	// RetryBackoffMs is the base delay between attempts within one
	// provider. Defaults to 1500.
	RetryBackoffMs int `json:"retry_backoff_ms,omitempty"`

	// RequestTimeoutSeconds bounds a single provider call. Defaults to 60.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	// StyleMode controls how a submitter's style sample is used:
	// "tone" (prompt guidance only, default) or "verbatim" (the sample is
	// appended to the generated grounds).
	StyleMode string `json:"style_mode,omitempty"`

	// MockMode disables all network providers and uses the deterministic
	// local generator. Intended for tests and dry runs.
	MockMode bool `json:"mock_mode,omitempty"`
}

// ProviderConfig describes one text-generation provider.
type ProviderConfig struct {
	// ID is a stable internal id (primary key for logging/audit).
	ID string `json:"id"`

	// Type is one of: "anthropic" | "openai" | "openai_compatible".
	Type string `json:"type"`

	// BaseURL overrides the provider endpoint. Required for
	// openai_compatible, optional otherwise.
	BaseURL string `json:"base_url,omitempty"`

	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// ValidationConfig controls the content policy applied to generated text.
type ValidationConfig struct {
	// WordLimit is the hard upper bound on generated grounds. Defaults to 2500.
	WordLimit int `json:"word_limit,omitempty"`

	// SoftMinRatio flags (but does not reject) output using less than this
	// fraction of the word limit. Defaults to 0.1.
	SoftMinRatio float64 `json:"soft_min_ratio,omitempty"`

	// AllowedLinks is the hyperlink allow-list. Any link not prefixed by an
	// entry here is a violation.
	AllowedLinks []string `json:"allowed_links,omitempty"`

	// ExtraForbiddenPhrases extends the built-in banned phrase list.
	ExtraForbiddenPhrases []string `json:"extra_forbidden_phrases,omitempty"`
}

// RenderConfig controls the PDF engines.
type RenderConfig struct {
	// ChromePath is the headless Chrome/Chromium binary for the primary
	// engine. If empty, chromedp's default lookup applies.
	ChromePath string `json:"chrome_path,omitempty"`

	// AttemptTimeoutSeconds bounds one primary-engine render. Defaults to 9.
	AttemptTimeoutSeconds int `json:"attempt_timeout_seconds,omitempty"`

	// DisablePrimary forces the fallback engine (useful on hosts without
	// Chrome installed).
	DisablePrimary bool `json:"disable_primary,omitempty"`
}

// DeliveryConfig controls the outbound mail queue.
type DeliveryConfig struct {
	// PollSeconds is the worker polling interval. Defaults to 60.
	PollSeconds int `json:"poll_seconds,omitempty"`

	// MaxAttempts is the per-job send budget before the job goes terminal
	// Failed. Defaults to 3.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// RetryBackoffSeconds is the base of the exponential retry delay.
	// Defaults to 120.
	RetryBackoffSeconds int `json:"retry_backoff_seconds,omitempty"`

	// BatchSize is how many jobs are sent concurrently per batch. Defaults to 50.
	BatchSize int `json:"batch_size,omitempty"`

	// BatchDelayMs is the pause between batches, to respect provider rate
	// limits. Defaults to 1000.
	BatchDelayMs int `json:"batch_delay_ms,omitempty"`

	From    string `json:"from"`
	ReplyTo string `json:"reply_to,omitempty"`

	SMTP SMTPConfig `json:"smtp"`
}

// SMTPConfig is the mail transport endpoint.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// NoTLS disables transport encryption (local test relays only).
	NoTLS bool `json:"no_tls,omitempty"`
}

const (
	StyleModeTone     = "tone"
	StyleModeVerbatim = "verbatim"
)

const (
	ProviderTypeAnthropic        = "anthropic"
	ProviderTypeOpenAI           = "openai"
	ProviderTypeOpenAICompatible = "openai_compatible"
)

const (
	defaultRetriesPerProvider    = 2
	defaultRetryBackoffMs        = 1500
	defaultRequestTimeoutSeconds = 60
	defaultWordLimit             = 2500
	defaultSoftMinRatio          = 0.1
	defaultRenderTimeoutSeconds  = 9
	defaultPollSeconds           = 60
	defaultMaxAttempts           = 3
	defaultRetryBackoffSeconds   = 120
	defaultBatchSize             = 50
	defaultBatchDelayMs          = 1000
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if !c.Generation.MockMode && len(c.Generation.Providers) == 0 {
		return errors.New("missing generation.providers (or set generation.mock_mode)")
	}
	seen := map[string]bool{}
	for i := range c.Generation.Providers {
		p := &c.Generation.Providers[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid generation.providers[%d]: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	switch strings.TrimSpace(c.Generation.StyleMode) {
	case "", StyleModeTone, StyleModeVerbatim:
	default:
		return fmt.Errorf("invalid generation.style_mode %q", c.Generation.StyleMode)
	}
	if strings.TrimSpace(c.Delivery.From) == "" {
		return errors.New("missing delivery.from")
	}
	if strings.TrimSpace(c.Delivery.SMTP.Host) == "" {
		return errors.New("missing delivery.smtp.host")
	}
	return nil
}

func (p *ProviderConfig) Validate() error {
	if p == nil {
		return errors.New("nil provider")
	}
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("missing id")
	}
	switch strings.TrimSpace(p.Type) {
	case ProviderTypeAnthropic, ProviderTypeOpenAI:
		// Official endpoints reject unauthenticated calls; catch the missing
		// key at config time instead of at daemon startup.
		if strings.TrimSpace(p.APIKey) == "" {
			return errors.New("missing api_key")
		}
	case ProviderTypeOpenAICompatible:
		// Keyless is fine here: local gateways often run without auth.
		if strings.TrimSpace(p.BaseURL) == "" {
			return errors.New("openai_compatible requires base_url")
		}
	default:
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	if strings.TrimSpace(p.Model) == "" {
		return errors.New("missing model")
	}
	return nil
}

// ApplyDefaults fills zero-valued tunables in place. Call after Load and
// before threading the config into constructors.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = DefaultStateDir()
	}
	if c.Generation.RetriesPerProvider <= 0 {
		c.Generation.RetriesPerProvider = defaultRetriesPerProvider
	}
	if c.Generation.RetryBackoffMs <= 0 {
		c.Generation.RetryBackoffMs = defaultRetryBackoffMs
	}
	if c.Generation.RequestTimeoutSeconds <= 0 {
		c.Generation.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if strings.TrimSpace(c.Generation.StyleMode) == "" {
		c.Generation.StyleMode = StyleModeTone
	}
	if c.Validation.WordLimit <= 0 {
		c.Validation.WordLimit = defaultWordLimit
	}
	if c.Validation.SoftMinRatio <= 0 {
		c.Validation.SoftMinRatio = defaultSoftMinRatio
	}
	if c.Render.AttemptTimeoutSeconds <= 0 {
		c.Render.AttemptTimeoutSeconds = defaultRenderTimeoutSeconds
	}
	if c.Delivery.PollSeconds <= 0 {
		c.Delivery.PollSeconds = defaultPollSeconds
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = defaultMaxAttempts
	}
	if c.Delivery.RetryBackoffSeconds <= 0 {
		c.Delivery.RetryBackoffSeconds = defaultRetryBackoffSeconds
	}
	if c.Delivery.BatchSize <= 0 {
		c.Delivery.BatchSize = defaultBatchSize
	}
	if c.Delivery.BatchDelayMs <= 0 {
		c.Delivery.BatchDelayMs = defaultBatchDelayMs
	}
}

// DefaultStateDir returns ~/.objector, falling back to a relative
// directory when the home dir cannot be resolved.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".objector"
	}
	return filepath.Join(home, ".objector")
}

// DefaultConfigPath returns the default config path:
//
//	~/.objector/config.json
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
