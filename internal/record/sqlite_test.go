package record

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "records.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, Submission{
		CouncilName:       "Northbrook City Council",
		RecipientEmail:    "submissions@northbrook.example.gov",
		ApplicationNumber: "DA-2025/0412",
		SiteAddress:       "14 Harbour Road, Northbrook",
		SubmitterName:     "Alex Rivera",
		ConcernKeys:       []string{"bulk_excavation", "overshadowing"},
		CustomGrounds:     "The site floods every winter.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub == nil {
		t.Fatalf("submission missing")
	}
	if sub.Status != StatusDraft {
		t.Fatalf("Status=%q, want draft", sub.Status)
	}
	if len(sub.ConcernKeys) != 2 || sub.ConcernKeys[0] != "bulk_excavation" {
		t.Fatalf("ConcernKeys=%v", sub.ConcernKeys)
	}
	if sub.CreatedAtUnixMs == 0 {
		t.Fatalf("CreatedAtUnixMs not set")
	}

	missing, err := s.Get(ctx, "no-such-id")
	if err != nil || missing != nil {
		t.Fatalf("Get missing: sub=%v err=%v", missing, err)
	}
}

func TestSQLiteStore_Lifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, Submission{RecipientEmail: "a@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Draft records cannot be finalized.
	if err := s.SetFinalized(ctx, id, "fallback", 2, "job-1"); err == nil {
		t.Fatalf("finalize of a draft must fail")
	}

	if err := s.SetGenerated(ctx, id, "## Grounds of objection\n\nBody.", "anthropic-prod", "claude-x"); err != nil {
		t.Fatalf("SetGenerated: %v", err)
	}
	sub, _ := s.Get(ctx, id)
	if sub.Status != StatusGenerated || sub.ProviderID != "anthropic-prod" {
		t.Fatalf("after generate: status=%q provider=%q", sub.Status, sub.ProviderID)
	}

	if err := s.SetFinalized(ctx, id, "primary", 3, "job-9"); err != nil {
		t.Fatalf("SetFinalized: %v", err)
	}
	sub, _ = s.Get(ctx, id)
	if sub.Status != StatusFinalized || sub.ArtifactPages != 3 || sub.DeliveryJobID != "job-9" {
		t.Fatalf("after finalize: %+v", sub)
	}
}

func TestSQLiteStore_RejectionClearsBody(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, Submission{RecipientEmail: "a@example.com"})
	if err := s.SetGenerated(ctx, id, "body", "p", "m"); err != nil {
		t.Fatalf("SetGenerated: %v", err)
	}
	if err := s.SetRejected(ctx, id, "forbidden_pattern: em-dash"); err != nil {
		t.Fatalf("SetRejected: %v", err)
	}

	sub, _ := s.Get(ctx, id)
	if sub.Status != StatusRejected {
		t.Fatalf("Status=%q", sub.Status)
	}
	if sub.GroundsBody != "" {
		t.Fatalf("rejected text must not persist: %q", sub.GroundsBody)
	}
	if sub.ValidationDetail == "" {
		t.Fatalf("ValidationDetail empty")
	}
}
