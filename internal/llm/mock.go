package llm

import (
	"fmt"
	"strings"
)

// MockModelID is reported as the model id on the deterministic local path.
const MockModelID = "mock-1"

// MockResult is the deterministic, network-free generation used in tests
// and dry runs. It satisfies the same contract as a provider-backed result
// without any provider call.
func MockResult(req Request) Result {
	text := MockText(req)
	return Result{
		ProviderID:       "mock",
		ModelID:          MockModelID,
		RawText:          text,
		CompletionTokens: int64(len(strings.Fields(text))),
		Attempts:         1,
	}
}

// MockText renders the deterministic grounds body for a request: each
// concern becomes a numbered markdown section with its full text unchanged,
// so downstream fidelity checks are exact.
// In verbatim style mode the style sample is appended as a closing section.
func MockText(req Request) string {
	var b strings.Builder
	b.WriteString("## Grounds of objection\n")
	for i, c := range req.Concerns {
		heading := strings.TrimSpace(c.Key)
		if heading == "" {
			heading = fmt.Sprintf("ground_%d", i+1)
		}
		fmt.Fprintf(&b, "\n### %d. %s\n\n%s\n", i+1, headingTitle(heading), strings.TrimSpace(c.FullText))
	}
	if req.StyleMode == "verbatim" {
		if sample := strings.TrimSpace(req.StyleSample); sample != "" {
			b.WriteString("\n### In my own words\n\n")
			b.WriteString(sample)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// headingTitle turns a concern key like "bulk_excavation" into "Bulk excavation".
func headingTitle(key string) string {
	s := strings.ReplaceAll(strings.TrimSpace(key), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
