package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeMailer is safe for concurrent sends within a batch.
type fakeMailer struct {
	mu    sync.Mutex
	sends int

	// failFirst makes the first N sends fail with err.
	failFirst int
	err       error
}

func (f *fakeMailer) Send(_ context.Context, _ Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sends <= f.failFirst {
		err := f.err
		if err == nil {
			err = &SendError{Err: errors.New("connection reset")}
		}
		return "", err
	}
	return "msg-ok", nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWorker(t *testing.T, s *Store, m Mailer, clock *testClock) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerOptions{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       s,
		Mailer:      m,
		MaxAttempts: 3,
		BackoffBase: time.Minute,
		BatchSize:   50,
		BatchDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	w.now = clock.now
	w.sleep = func(time.Duration) {}
	return w
}

func TestWorker_SendsPendingJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	clock := &testClock{t: time.UnixMilli(1_000_000)}
	w := newTestWorker(t, s, &fakeMailer{}, clock)

	id, _ := s.Enqueue(ctx, Job{Recipient: "a@example.com", Subject: "s", BodyText: "b"})
	if err := w.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	j, _ := s.Get(ctx, id)
	if j.Status != StatusSent {
		t.Fatalf("Status=%q, want sent", j.Status)
	}
	if j.ProviderMessageID != "msg-ok" {
		t.Fatalf("ProviderMessageID=%q", j.ProviderMessageID)
	}
}

func TestWorker_RetryBackoffThenTerminalFailure(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	clock := &testClock{t: time.UnixMilli(1_000_000)}
	mailer := &fakeMailer{failFirst: 99}
	w := newTestWorker(t, s, mailer, clock)

	id, _ := s.Enqueue(ctx, Job{Recipient: "a@example.com"})

	var lastNext int64
	for attempt := 1; attempt < w.maxAttempts; attempt++ {
		if err := w.ProcessDue(ctx); err != nil {
			t.Fatalf("ProcessDue attempt %d: %v", attempt, err)
		}
		j, _ := s.Get(ctx, id)
		if j.Status != StatusPending {
			t.Fatalf("attempt %d: Status=%q, want pending", attempt, j.Status)
		}
		if j.AttemptCount != attempt {
			t.Fatalf("attempt %d: AttemptCount=%d", attempt, j.AttemptCount)
		}
		if j.NextAttemptUnixMs <= lastNext {
			t.Fatalf("attempt %d: next attempt %d not strictly increasing (prev %d)",
				attempt, j.NextAttemptUnixMs, lastNext)
		}
		lastNext = j.NextAttemptUnixMs

		// Not due yet: an immediate pass is a no-op.
		before := mailer.sends
		if err := w.ProcessDue(ctx); err != nil {
			t.Fatalf("ProcessDue: %v", err)
		}
		if mailer.sends != before {
			t.Fatalf("job sent before its next_attempt_at")
		}

		clock.advance(time.Duration(j.NextAttemptUnixMs-clock.now().UnixMilli())*time.Millisecond + time.Second)
	}

	// Final attempt exhausts the budget.
	if err := w.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue final: %v", err)
	}
	j, _ := s.Get(ctx, id)
	if j.Status != StatusFailed {
		t.Fatalf("Status=%q, want failed", j.Status)
	}
	if j.AttemptCount != w.maxAttempts {
		t.Fatalf("AttemptCount=%d, want %d", j.AttemptCount, w.maxAttempts)
	}
	if j.LastError == "" {
		t.Fatalf("LastError empty on terminal failure")
	}

	// Terminal: never retried again.
	sends := mailer.sends
	clock.advance(24 * time.Hour)
	if err := w.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue after failure: %v", err)
	}
	if mailer.sends != sends {
		t.Fatalf("failed job was retried")
	}
}

func TestWorker_PermanentErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	clock := &testClock{t: time.UnixMilli(1_000_000)}
	mailer := &fakeMailer{failFirst: 99, err: &SendError{Permanent: true, Err: errors.New("550 no such user")}}
	w := newTestWorker(t, s, mailer, clock)

	id, _ := s.Enqueue(ctx, Job{Recipient: "nobody@example.com"})
	if err := w.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	j, _ := s.Get(ctx, id)
	if j.Status != StatusFailed {
		t.Fatalf("Status=%q, want failed on permanent error", j.Status)
	}
	if j.AttemptCount != 1 {
		t.Fatalf("AttemptCount=%d, want 1", j.AttemptCount)
	}
}

func TestWorker_BackoffDelayDoubles(t *testing.T) {
	t.Parallel()

	w := &Worker{backoffBase: time.Minute}
	if got := w.backoffDelay(1); got != time.Minute {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := w.backoffDelay(2); got != 2*time.Minute {
		t.Fatalf("attempt 2: %v", got)
	}
	if got := w.backoffDelay(3); got != 4*time.Minute {
		t.Fatalf("attempt 3: %v", got)
	}
}

func TestWorker_RunRecoversOrphanedJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &testClock{t: time.UnixMilli(1_000_000)}
	mailer := &fakeMailer{}
	w := newTestWorker(t, s, mailer, clock)
	w.pollInterval = 5 * time.Millisecond

	// A previous daemon claimed the job and died before resolving it.
	id, _ := s.Enqueue(ctx, Job{Recipient: "a@example.com"})
	if ok, _ := s.Claim(ctx, id); !ok {
		t.Fatalf("Claim failed")
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		j, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.Status == StatusSent {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job still %q after restart; orphan never recovered", j.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestWorker_CampaignBatchAccounting(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	clock := &testClock{t: time.UnixMilli(1_000_000)}

	// First 40 sends fail transiently, the rest succeed: progress has to
	// add up at every observation point and pending must never grow.
	mailer := &fakeMailer{failFirst: 40}
	w := newTestWorker(t, s, mailer, clock)

	recipients := make([]string, 120)
	for i := range recipients {
		recipients[i] = "r" + string(rune('0'+i%10)) + string(rune('a'+i/10)) + "@example.com"
	}
	campaignID, err := s.CreateCampaign(ctx, "exhibition blast", Job{Subject: "s", BodyText: "b"}, recipients)
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	check := func(prevPending int) int {
		t.Helper()
		p, err := s.CampaignProgress(ctx, campaignID)
		if err != nil {
			t.Fatalf("CampaignProgress: %v", err)
		}
		if sum := p.Sent + p.Failed + p.Pending + p.Processing + p.Cancelled; sum != 120 {
			t.Fatalf("progress sum=%d, want 120 (%+v)", sum, p)
		}
		if p.Pending > prevPending {
			t.Fatalf("pending grew: %d -> %d", prevPending, p.Pending)
		}
		return p.Pending
	}

	pending := check(120)
	for pass := 0; pass < 6; pass++ {
		if err := w.ProcessDue(ctx); err != nil {
			t.Fatalf("ProcessDue pass %d: %v", pass, err)
		}
		pending = check(pending)
		clock.advance(time.Hour) // clear all backoff windows
	}

	p, _ := s.CampaignProgress(ctx, campaignID)
	if p.Sent != 120 {
		t.Fatalf("Sent=%d, want 120 after retries cleared (%+v)", p.Sent, p)
	}
}
