package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeProvider struct {
	id    string
	calls int

	// fail is how many leading calls fail before outputs are served.
	fail    int
	failErr error

	outputs []Output
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Generate(_ context.Context, _ Prompt) (Output, error) {
	f.calls++
	if f.calls <= f.fail {
		err := f.failErr
		if err == nil {
			err = &ProviderError{ProviderID: f.id, Status: 503, Transient: true, Err: errors.New("upstream unavailable")}
		}
		return Output{}, err
	}
	i := f.calls - f.fail - 1
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	return f.outputs[i], nil
}

func quietOrchestrator(t *testing.T, opts OrchestratorOptions) *Orchestrator {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	o, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	o.sleep = func(time.Duration) {}
	return o
}

func TestOrchestrator_FallbackOrder(t *testing.T) {
	t.Parallel()

	a := &fakeProvider{id: "a", fail: 99}
	b := &fakeProvider{id: "b", fail: 99}
	c := &fakeProvider{id: "c", outputs: []Output{{ModelID: "m-c", RawJSON: `{"final_text":"grounds"}`, PromptTokens: 10, CompletionTokens: 5}}}

	o := quietOrchestrator(t, OrchestratorOptions{Providers: []Provider{a, b, c}, RetriesPerProvider: 2})

	res, err := o.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.ProviderID != "c" {
		t.Fatalf("ProviderID=%q, want c", res.ProviderID)
	}
	if res.RawText != "grounds" {
		t.Fatalf("RawText=%q, want grounds", res.RawText)
	}
	// Each failing provider is retried up to its budget (1 + 2 retries)
	// before the chain moves on.
	if a.calls != 3 {
		t.Fatalf("provider a calls=%d, want 3", a.calls)
	}
	if b.calls != 3 {
		t.Fatalf("provider b calls=%d, want 3", b.calls)
	}
	if c.calls != 1 {
		t.Fatalf("provider c calls=%d, want 1", c.calls)
	}
	if res.Attempts != 7 {
		t.Fatalf("Attempts=%d, want 7", res.Attempts)
	}
}

func TestOrchestrator_AllProvidersExhausted(t *testing.T) {
	t.Parallel()

	a := &fakeProvider{id: "a", fail: 99}
	o := quietOrchestrator(t, OrchestratorOptions{Providers: []Provider{a}, RetriesPerProvider: 1})

	_, err := o.Generate(context.Background(), Request{})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err=%v, want ErrAllProvidersExhausted", err)
	}
	if a.calls != 2 {
		t.Fatalf("provider a calls=%d, want 2", a.calls)
	}
}

func TestOrchestrator_PermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	a := &fakeProvider{
		id:      "a",
		fail:    99,
		failErr: &ProviderError{ProviderID: "a", Status: 401, Err: errors.New("bad key")},
	}
	b := &fakeProvider{id: "b", outputs: []Output{{ModelID: "m-b", RawJSON: `{"final_text":"ok"}`}}}

	o := quietOrchestrator(t, OrchestratorOptions{Providers: []Provider{a, b}, RetriesPerProvider: 2})

	res, err := o.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.ProviderID != "b" {
		t.Fatalf("ProviderID=%q, want b", res.ProviderID)
	}
	if a.calls != 1 {
		t.Fatalf("provider a calls=%d, want 1 (no retries on permanent failure)", a.calls)
	}
}

func TestOrchestrator_SchemaDriftSecondaryField(t *testing.T) {
	t.Parallel()

	a := &fakeProvider{id: "a", outputs: []Output{{ModelID: "m", RawJSON: `{"body":"drifted but usable"}`}}}
	o := quietOrchestrator(t, OrchestratorOptions{Providers: []Provider{a}})

	res, err := o.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.RawText != "drifted but usable" {
		t.Fatalf("RawText=%q", res.RawText)
	}
}

func TestOrchestrator_ParseFailureRetriedLikeTransport(t *testing.T) {
	t.Parallel()

	a := &fakeProvider{id: "a", outputs: []Output{
		{ModelID: "m", RawJSON: `{"unexpected":"shape"}`},
		{ModelID: "m", RawJSON: `not json at all`},
		{ModelID: "m", RawJSON: `{"final_text":"recovered"}`},
	}}
	o := quietOrchestrator(t, OrchestratorOptions{Providers: []Provider{a}, RetriesPerProvider: 2})

	res, err := o.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.RawText != "recovered" {
		t.Fatalf("RawText=%q, want recovered", res.RawText)
	}
	if a.calls != 3 {
		t.Fatalf("calls=%d, want 3", a.calls)
	}
	if res.Attempts != 3 {
		t.Fatalf("Attempts=%d, want 3", res.Attempts)
	}
}

func TestExtractText_FencedJSON(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"final_text\":\"inside a fence\"}\n```"
	got, err := extractText(raw)
	if err != nil {
		t.Fatalf("extractText: %v", err)
	}
	if got != "inside a fence" {
		t.Fatalf("got=%q", got)
	}
}

func TestMockResult_Deterministic(t *testing.T) {
	t.Parallel()

	req := Request{
		Concerns: []Concern{
			{Key: "bulk_excavation", FullText: "The proposal involves 12,600 m³ of cut."},
			{Key: "traffic", FullText: "Peak-hour movements will double."},
		},
		StyleSample: "I have lived here for twenty years.",
		StyleMode:   "tone",
	}

	r1 := MockResult(req)
	r2 := MockResult(req)
	if r1.RawText != r2.RawText {
		t.Fatalf("mock output not deterministic")
	}
	if r1.ProviderID != "mock" || r1.ModelID != MockModelID {
		t.Fatalf("mock identity: provider=%q model=%q", r1.ProviderID, r1.ModelID)
	}
	if !strings.Contains(r1.RawText, "12,600 m³") {
		t.Fatalf("mock output lost a measurement token:\n%s", r1.RawText)
	}
	// Concern order is preserved.
	if strings.Index(r1.RawText, "Bulk excavation") > strings.Index(r1.RawText, "Traffic") {
		t.Fatalf("concern order not preserved:\n%s", r1.RawText)
	}
	// Tone mode never copies the sample into the output.
	if strings.Contains(r1.RawText, "twenty years") {
		t.Fatalf("tone mode leaked style sample:\n%s", r1.RawText)
	}

	req.StyleMode = "verbatim"
	if got := MockText(req); !strings.Contains(got, "I have lived here for twenty years.") {
		t.Fatalf("verbatim mode did not append style sample:\n%s", got)
	}
}
