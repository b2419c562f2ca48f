package oplog

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	s, err := New(Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		StateDir:   t.TempDir(),
		MaxBytes:   maxBytes,
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_AppendAndList(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, 0)

	s.Append(Entry{Event: "delivery_failed", Status: "failure", JobID: "job-1", Error: "550 no such user"})
	s.Append(Entry{Event: "render_fallback", SubmissionID: "sub-1", Engine: "fallback"})

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries)=%d, want 2", len(entries))
	}

	// Newest first.
	if entries[0].Event != "render_fallback" {
		t.Fatalf("entries[0].Event=%q", entries[0].Event)
	}
	if entries[0].Status != "success" {
		t.Fatalf("empty status not defaulted: %q", entries[0].Status)
	}
	if entries[1].JobID != "job-1" || entries[1].Error == "" {
		t.Fatalf("entries[1]=%+v", entries[1])
	}
	if entries[0].CreatedAt == "" {
		t.Fatalf("CreatedAt not stamped")
	}
}

func TestStore_RotationKeepsNewestEntries(t *testing.T) {
	t.Parallel()

	// Tiny threshold so every few appends rotate.
	s := newTestStore(t, 256)

	for i := 0; i < 50; i++ {
		s.Append(Entry{Event: "delivery_failed", Status: "failure", JobID: fmt.Sprintf("job-%02d", i)})
	}

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("len(entries)=%d, want 10", len(entries))
	}
	if entries[0].JobID != "job-49" {
		t.Fatalf("newest entry is %q, want job-49", entries[0].JobID)
	}
}

func TestStore_NilSafe(t *testing.T) {
	t.Parallel()

	var s *Store
	s.Append(Entry{Event: "noop"})
	if entries, err := s.List(5); err != nil || entries != nil {
		t.Fatalf("nil store List: entries=%v err=%v", entries, err)
	}
}
