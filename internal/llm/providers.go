package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/councilworks/objector/internal/config"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oshared "github.com/openai/openai-go/shared"
)

const defaultMaxOutputTokens = 4096

// NewProvider builds the adapter for one configured provider.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	providerType := strings.ToLower(strings.TrimSpace(cfg.Type))
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	switch providerType {
	case config.ProviderTypeOpenAI, config.ProviderTypeOpenAICompatible:
		// Local openai_compatible gateways commonly run without auth; the
		// official endpoint never does.
		if apiKey == "" && providerType == config.ProviderTypeOpenAI {
			return nil, fmt.Errorf("provider %s: missing api key", cfg.ID)
		}
		opts := []ooption.RequestOption{}
		if apiKey != "" {
			opts = append(opts, ooption.WithAPIKey(apiKey))
		}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		return &openAIProvider{
			id:     strings.TrimSpace(cfg.ID),
			model:  strings.TrimSpace(cfg.Model),
			client: openai.NewClient(opts...),
			// Compatible gateways vary widely in JSON-mode support; only
			// official endpoints get response_format.
			jsonMode: providerType == config.ProviderTypeOpenAI && baseURL == "",
		}, nil
	case config.ProviderTypeAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("provider %s: missing api key", cfg.ID)
		}
		opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, aoption.WithBaseURL(baseURL))
		}
		return &anthropicProvider{
			id:     strings.TrimSpace(cfg.ID),
			model:  strings.TrimSpace(cfg.Model),
			client: anthropic.NewClient(opts...),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

// NewProviders builds the priority-ordered provider chain from config.
func NewProviders(cfgs []config.ProviderConfig) ([]Provider, error) {
	out := make([]Provider, 0, len(cfgs))
	for i := range cfgs {
		p, err := NewProvider(cfgs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type anthropicProvider struct {
	id     string
	model  string
	client anthropic.Client
}

func (p *anthropicProvider) ID() string {
	if p == nil {
		return ""
	}
	return p.id
}

func (p *anthropicProvider) Generate(ctx context.Context, prompt Prompt) (Output, error) {
	if p == nil {
		return Output{}, errors.New("nil provider")
	}
	if strings.TrimSpace(p.model) == "" {
		return Output{}, &ProviderError{ProviderID: p.id, Err: errors.New("missing model")}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultMaxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if system := strings.TrimSpace(prompt.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Output{}, p.classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	return Output{
		ModelID:          string(msg.Model),
		RawJSON:          text.String(),
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
	}, nil
}

func (p *anthropicProvider) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{ProviderID: p.id, Status: apierr.StatusCode, Transient: transientStatus(apierr.StatusCode), Err: err}
	}
	// No typed API error: treat as a transport problem (timeout, reset).
	return &ProviderError{ProviderID: p.id, Transient: true, Err: err}
}

type openAIProvider struct {
	id       string
	model    string
	client   openai.Client
	jsonMode bool
}

func (p *openAIProvider) ID() string {
	if p == nil {
		return ""
	}
	return p.id
}

func (p *openAIProvider) Generate(ctx context.Context, prompt Prompt) (Output, error) {
	if p == nil {
		return Output{}, errors.New("nil provider")
	}
	if strings.TrimSpace(p.model) == "" {
		return Output{}, &ProviderError{ProviderID: p.id, Err: errors.New("missing model")}
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		MaxCompletionTokens: openai.Int(defaultMaxOutputTokens),
	}
	if p.jsonMode {
		obj := oshared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Output{}, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return Output{}, &ProviderError{ProviderID: p.id, Transient: true, Parse: true, Err: errors.New("empty choices")}
	}
	return Output{
		ModelID:          resp.Model,
		RawJSON:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *openAIProvider) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &ProviderError{ProviderID: p.id, Status: apierr.StatusCode, Transient: transientStatus(apierr.StatusCode), Err: err}
	}
	return &ProviderError{ProviderID: p.id, Transient: true, Err: err}
}
