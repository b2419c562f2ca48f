package llm

import (
	"fmt"
	"strings"
)

// Field names the providers are instructed to return. The orchestrator
// accepts promptPrimaryField first and falls back to promptSecondaryField
// when a provider drifts from the instructed schema.
const (
	promptPrimaryField   = "final_text"
	promptSecondaryField = "body"
)

const systemPrompt = `You draft formal objection letters to development applications on behalf of community members.

Rules:
- Use only the approved facts and the selected concerns supplied by the user. Never invent studies, statistics, expert opinions or external references.
- Keep every numeric measurement and unit from the source concerns verbatim (for example "12,600 m³" must appear exactly as written).
- Plain formal English. No emoji. No em-dashes.
- Structure the response as numbered grounds of objection with short headings, using markdown.
- Respond with a single JSON object: {"` + promptPrimaryField + `": "<the complete grounds text>"}. No other keys, no surrounding prose.`

// BuildPrompt renders a Request into the provider-independent prompt shape.
// Deterministic: same request, same prompt.
func BuildPrompt(req Request) Prompt {
	var b strings.Builder

	fmt.Fprintf(&b, "Application number: %s\n", strings.TrimSpace(req.Meta.ApplicationNumber))
	fmt.Fprintf(&b, "Site address: %s\n", strings.TrimSpace(req.Meta.SiteAddress))
	if t := strings.TrimSpace(req.Meta.Track); t != "" {
		fmt.Fprintf(&b, "Assessment track: %s\n", t)
	}
	if req.WordLimit > 0 {
		fmt.Fprintf(&b, "Hard word limit: %d words.\n", req.WordLimit)
	}

	if facts := strings.TrimSpace(req.ApprovedFacts); facts != "" {
		b.WriteString("\nApproved facts (the only factual material you may rely on):\n")
		b.WriteString(facts)
		b.WriteString("\n")
	}

	b.WriteString("\nSelected concerns, in the submitter's order:\n")
	for i, c := range req.Concerns {
		fmt.Fprintf(&b, "\n%d. [%s]\n%s\n", i+1, c.Key, strings.TrimSpace(c.FullText))
	}

	if sample := strings.TrimSpace(req.StyleSample); sample != "" && req.StyleMode == "tone" {
		b.WriteString("\nWriting sample from the submitter. Match its tone and register; do NOT copy its content:\n")
		b.WriteString(sample)
		b.WriteString("\n")
	}

	return Prompt{System: systemPrompt, User: b.String()}
}
