package record

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Project is the on-disk campaign definition: which application is being
// objected to, the facts the generator may use, and the concern catalogue.
// One file per development application.
type Project struct {
	CouncilName       string `yaml:"council_name"`
	RecipientEmail    string `yaml:"recipient_email"`
	ApplicationNumber string `yaml:"application_number"`
	SiteAddress       string `yaml:"site_address"`
	Track             string `yaml:"track"`

	// ApprovedFacts is the only factual material the generator is given
	// beyond the selected concerns.
	ApprovedFacts string `yaml:"approved_facts"`

	// StyleMode is "tone" or "verbatim". Empty means tone.
	StyleMode string `yaml:"style_mode"`

	// Declaration overrides the built-in closing declaration when set.
	Declaration string `yaml:"declaration"`

	// AllowedLinks extends the hyperlink allow-list for generated text.
	AllowedLinks []string `yaml:"allowed_links"`

	Concerns []Concern `yaml:"concerns"`

	byKey map[string]Concern
}

// LoadProject reads and validates a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project file %s: %w", path, err)
	}
	p.index()
	return &p, nil
}

func (p *Project) Validate() error {
	if strings.TrimSpace(p.CouncilName) == "" {
		return fmt.Errorf("missing council_name")
	}
	if strings.TrimSpace(p.RecipientEmail) == "" {
		return fmt.Errorf("missing recipient_email")
	}
	if strings.TrimSpace(p.ApplicationNumber) == "" {
		return fmt.Errorf("missing application_number")
	}
	if strings.TrimSpace(p.SiteAddress) == "" {
		return fmt.Errorf("missing site_address")
	}
	if len(p.Concerns) == 0 {
		return fmt.Errorf("no concerns defined")
	}
	seen := make(map[string]bool, len(p.Concerns))
	for i, c := range p.Concerns {
		key := strings.TrimSpace(c.Key)
		if key == "" {
			return fmt.Errorf("concern %d: missing key", i)
		}
		if seen[key] {
			return fmt.Errorf("concern %d: duplicate key %q", i, key)
		}
		seen[key] = true
		if strings.TrimSpace(c.FullText) == "" {
			return fmt.Errorf("concern %q: missing full_text", key)
		}
	}
	switch strings.TrimSpace(p.StyleMode) {
	case "", "tone", "verbatim":
	default:
		return fmt.Errorf("style_mode must be tone or verbatim, got %q", p.StyleMode)
	}
	return nil
}

func (p *Project) index() {
	p.byKey = make(map[string]Concern, len(p.Concerns))
	for _, c := range p.Concerns {
		p.byKey[strings.TrimSpace(c.Key)] = c
	}
}

// Concern looks up one catalogue entry by key.
func (p *Project) Concern(key string) (Concern, bool) {
	if p == nil || p.byKey == nil {
		return Concern{}, false
	}
	c, ok := p.byKey[strings.TrimSpace(key)]
	return c, ok
}

// Select resolves keys to concerns, preserving the given order. Unknown
// keys are an error so a stale selection cannot silently drop a ground.
func (p *Project) Select(keys []string) ([]Concern, error) {
	out := make([]Concern, 0, len(keys))
	for _, k := range keys {
		c, ok := p.Concern(k)
		if !ok {
			return nil, fmt.Errorf("unknown concern key %q", k)
		}
		out = append(out, c)
	}
	return out, nil
}
