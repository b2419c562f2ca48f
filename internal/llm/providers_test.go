package llm

import (
	"strings"
	"testing"

	"github.com/councilworks/objector/internal/config"
)

func TestNewProvider_KeyRequirements(t *testing.T) {
	t.Parallel()

	// A keyless local gateway is a valid openai_compatible provider; the
	// same config must pass validation and the factory alike.
	cfg := config.ProviderConfig{
		ID:      "local",
		Type:    config.ProviderTypeOpenAICompatible,
		BaseURL: "http://127.0.0.1:8080/v1",
		Model:   "local-x",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("keyless openai_compatible rejected by config: %v", err)
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("keyless openai_compatible rejected by factory: %v", err)
	}
	if p.ID() != "local" {
		t.Fatalf("ID=%q", p.ID())
	}

	// Official endpoints require a key in both places.
	for _, typ := range []string{config.ProviderTypeAnthropic, config.ProviderTypeOpenAI} {
		keyless := config.ProviderConfig{ID: "x", Type: typ, Model: "m"}
		if err := keyless.Validate(); err == nil {
			t.Fatalf("%s without key passed config validation", typ)
		}
		if _, err := NewProvider(keyless); err == nil || !strings.Contains(err.Error(), "api key") {
			t.Fatalf("%s without key: factory err=%v", typ, err)
		}
	}

	if _, err := NewProvider(config.ProviderConfig{ID: "x", Type: "bard", Model: "m", APIKey: "k"}); err == nil {
		t.Fatalf("unknown provider type accepted")
	}
}
