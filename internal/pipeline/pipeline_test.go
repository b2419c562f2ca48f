package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/delivery"
	"github.com/councilworks/objector/internal/document"
	"github.com/councilworks/objector/internal/llm"
	"github.com/councilworks/objector/internal/record"
	"github.com/councilworks/objector/internal/render"
)

const testProjectYAML = `
council_name: Northbrook City Council
recipient_email: submissions@northbrook.example.gov
application_number: DA-2025/0412
site_address: 14 Harbour Road, Northbrook
track: local
approved_facts: |
  The application proposes bulk excavation of 12,600 m³ of soil.
concerns:
  - key: bulk_excavation
    summary: Excavation volume
    full_text: |
      The proposed bulk excavation of 12,600 m³ will generate sustained
      heavy vehicle movements on Harbour Road for months.
  - key: overshadowing
    summary: Loss of sunlight
    full_text: |
      The tower form overshadows the adjoining public park after 2pm
      in midwinter.
`

type fixture struct {
	svc   *Service
	subs  *record.SQLiteStore
	queue *delivery.Store
}

// failEngine stands in for a renderer whose engines are all broken.
type failEngine struct{}

func (failEngine) Name() string { return "broken" }
func (failEngine) Render(context.Context, document.Document) ([]byte, int, error) {
	return nil, 0, errors.New("no display")
}

func newFixture(t *testing.T, primary render.Engine, fallback render.Engine) fixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	projPath := filepath.Join(dir, "project.yaml")
	if err := os.WriteFile(projPath, []byte(testProjectYAML), 0o600); err != nil {
		t.Fatalf("write project: %v", err)
	}
	project, err := record.LoadProject(projPath)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}

	subs, err := record.OpenSQLite(filepath.Join(dir, "records.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = subs.Close() })

	queue, err := delivery.Open(filepath.Join(dir, "queue.sqlite"))
	if err != nil {
		t.Fatalf("delivery.Open: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })

	orch, err := llm.NewOrchestrator(llm.OrchestratorOptions{Logger: logger, Mock: true})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	if fallback == nil {
		fallback = render.NewPDFEngine()
	}
	renderer, err := render.NewRenderer(render.RendererOptions{Logger: logger, Primary: primary, Fallback: fallback})
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	svc, err := NewService(Options{
		Logger:       logger,
		Orchestrator: orch,
		Renderer:     renderer,
		Queue:        queue,
		Submissions:  subs,
		Concerns:     project,
		Project:      project,
		Validation:   config.ValidationConfig{WordLimit: 2500, SoftMinRatio: 0.1},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return fixture{svc: svc, subs: subs, queue: queue}
}

func newSubmission(t *testing.T, f fixture) string {
	t.Helper()
	id, err := f.subs.Create(context.Background(), record.Submission{
		CouncilName:       "Northbrook City Council",
		RecipientEmail:    "submissions@northbrook.example.gov",
		ApplicationNumber: "DA-2025/0412",
		SiteAddress:       "14 Harbour Road, Northbrook",
		SubmitterName:     "Alex Rivera",
		SubmitterAddress:  "2 Foreshore Lane, Northbrook",
		SubmitterEmail:    "alex@example.com",
		ConcernKeys:       []string{"bulk_excavation", "overshadowing"},
		CustomGrounds:     "TEST_CUSTOM_123 the site floods every winter.",
	})
	if err != nil {
		t.Fatalf("Create submission: %v", err)
	}
	return id
}

func TestService_RunEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	ctx := context.Background()
	id := newSubmission(t, f)

	jobID, err := f.svc.Run(ctx, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	sub, err := f.subs.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get submission: %v", err)
	}
	if sub.Status != record.StatusFinalized {
		t.Fatalf("Status=%q, want finalized", sub.Status)
	}
	if sub.ModelID != llm.MockModelID {
		t.Fatalf("ModelID=%q", sub.ModelID)
	}
	if !strings.Contains(sub.GroundsBody, "12,600 m³") {
		t.Fatalf("measurement lost from grounds body:\n%s", sub.GroundsBody)
	}
	if sub.DeliveryJobID != jobID {
		t.Fatalf("DeliveryJobID=%q, want %q", sub.DeliveryJobID, jobID)
	}

	job, err := f.queue.Get(ctx, jobID)
	if err != nil || job == nil {
		t.Fatalf("queue.Get: job=%v err=%v", job, err)
	}
	if job.Recipient != "submissions@northbrook.example.gov" {
		t.Fatalf("Recipient=%q", job.Recipient)
	}
	if len(job.CC) != 1 || job.CC[0] != "alex@example.com" {
		t.Fatalf("CC=%v, submitter copy missing", job.CC)
	}
	if job.Subject != "Objection to development application DA-2025/0412" {
		t.Fatalf("Subject=%q", job.Subject)
	}

	// Custom grounds come before the generated grounds in the body.
	custom := strings.Index(job.BodyText, "TEST_CUSTOM_123")
	generated := strings.Index(job.BodyText, "heavy vehicle movements")
	if custom < 0 || generated < 0 || custom > generated {
		t.Fatalf("custom=%d generated=%d:\n%s", custom, generated, job.BodyText)
	}

	if len(job.Attachments) != 1 {
		t.Fatalf("Attachments=%d", len(job.Attachments))
	}
	att := job.Attachments[0]
	if att.Filename != "objection-DA-2025-0412.pdf" {
		t.Fatalf("Filename=%q", att.Filename)
	}
	if !strings.HasPrefix(string(att.Content), "%PDF-") {
		t.Fatalf("attachment is not a PDF")
	}
}

func TestService_RejectionIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	ctx := context.Background()

	// The style sample carries a banned phrase; in verbatim mode the mock
	// appends it, so validation has to reject the output.
	f.svc.project.StyleMode = "verbatim"
	id, err := f.subs.Create(ctx, record.Submission{
		RecipientEmail: "submissions@northbrook.example.gov",
		ConcernKeys:    []string{"overshadowing"},
		StyleSample:    "Studies show that towers are bad neighbours.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.Generate(ctx, id); !errors.Is(err, ErrContentRejected) {
		t.Fatalf("Generate err=%v, want ErrContentRejected", err)
	}

	sub, _ := f.subs.Get(ctx, id)
	if sub.Status != record.StatusRejected {
		t.Fatalf("Status=%q", sub.Status)
	}
	if sub.GroundsBody != "" {
		t.Fatalf("rejected text persisted: %q", sub.GroundsBody)
	}
	if !strings.Contains(sub.ValidationDetail, "forbidden_pattern") {
		t.Fatalf("ValidationDetail=%q", sub.ValidationDetail)
	}

	// A rejected record cannot be finalized.
	if _, err := f.svc.Finalize(ctx, id); err == nil {
		t.Fatalf("Finalize of a rejected submission must fail")
	}
}

func TestService_RenderFailureLeavesRecordUnfinalized(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failEngine{}, failEngine{})
	ctx := context.Background()
	id := newSubmission(t, f)

	if err := f.svc.Generate(ctx, id); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := f.svc.Finalize(ctx, id); !errors.Is(err, ErrArtifactUnavailable) {
		t.Fatalf("Finalize err=%v, want ErrArtifactUnavailable", err)
	}

	sub, _ := f.subs.Get(ctx, id)
	if sub.Status != record.StatusGenerated {
		t.Fatalf("Status=%q, want generated (resumable)", sub.Status)
	}
	if sub.GroundsBody == "" {
		t.Fatalf("generated text lost on render failure")
	}

	// Nothing reached the queue.
	due, err := f.queue.Due(ctx, 1<<60, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("unexpected queued jobs: %v", due)
	}
}

func TestService_PrimaryEngineProducesArtifactMetadata(t *testing.T) {
	t.Parallel()

	// A stub primary succeeds so the artifact records the primary engine.
	f := newFixture(t, stubEngine{}, nil)
	ctx := context.Background()
	id := newSubmission(t, f)

	if _, err := f.svc.Run(ctx, id); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sub, _ := f.subs.Get(ctx, id)
	if sub.ArtifactEngine != string(render.EnginePrimary) {
		t.Fatalf("ArtifactEngine=%q", sub.ArtifactEngine)
	}
	if sub.ArtifactPages != 2 {
		t.Fatalf("ArtifactPages=%d", sub.ArtifactPages)
	}
}

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }
func (stubEngine) Render(context.Context, document.Document) ([]byte, int, error) {
	return []byte("%PDF-stub"), 2, nil
}
