package delivery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/councilworks/objector/internal/oplog"
)

// Worker is the single logical queue processor per daemon. It polls on a
// fixed interval, claims due jobs with the exclusive Pending -> Processing
// transition, and sends them in batches: jobs within a batch go out
// concurrently up to the batch size, batches run sequentially with a short
// delay between them to respect transport rate limits.
type Worker struct {
	store  *Store
	mailer Mailer
	ops    *oplog.Store
	log    *slog.Logger

	pollInterval time.Duration
	maxAttempts  int
	backoffBase  time.Duration
	batchSize    int
	batchDelay   time.Duration

	// now and sleep are swappable in tests.
	now   func() time.Time
	sleep func(time.Duration)
}

type WorkerOptions struct {
	Logger *slog.Logger

	Store  *Store
	Mailer Mailer

	// Ops is the operator event log. Optional; terminal failures are
	// logged either way, but without it they are not queryable.
	Ops *oplog.Store

	// PollInterval between queue scans. Defaults to 60s.
	PollInterval time.Duration

	// MaxAttempts per job before terminal failure. Defaults to 3.
	MaxAttempts int

	// BackoffBase is the base of the exponential retry delay
	// (base * 2^(attempt-1)). Defaults to 2m.
	BackoffBase time.Duration

	// BatchSize is the per-batch concurrency bound. Defaults to 50.
	BatchSize int

	// BatchDelay is the pause between batches. Defaults to 1s.
	BatchDelay time.Duration
}

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Store == nil {
		return nil, errors.New("missing store")
	}
	if opts.Mailer == nil {
		return nil, errors.New("missing mailer")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	w := &Worker{
		store:        opts.Store,
		mailer:       opts.Mailer,
		ops:          opts.Ops,
		log:          logger,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		backoffBase:  opts.BackoffBase,
		batchSize:    opts.BatchSize,
		batchDelay:   opts.BatchDelay,
		now:          time.Now,
		sleep:        time.Sleep,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 60 * time.Second
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.backoffBase <= 0 {
		w.backoffBase = 2 * time.Minute
	}
	if w.batchSize <= 0 {
		w.batchSize = 50
	}
	if w.batchDelay <= 0 {
		w.batchDelay = time.Second
	}
	return w, nil
}

// Run polls until the context is cancelled. One pass runs immediately so a
// restarted daemon picks up persisted jobs without waiting a full interval.
func (w *Worker) Run(ctx context.Context) {
	if w == nil {
		return
	}
	w.log.Info("delivery worker started", "poll_interval", w.pollInterval)

	// A crash between Claim and the terminal mark leaves jobs stuck in
	// Processing; with the startup lock held those rows can only be ours.
	if n, err := w.store.ResetProcessing(ctx); err != nil {
		w.log.Error("stale job recovery failed", "error", err)
	} else if n > 0 {
		w.log.Warn("requeued jobs left in flight by an unclean shutdown", "count", n)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if err := w.ProcessDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("queue pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.log.Info("delivery worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue drains everything currently due, batch by batch. Campaign
// cancellation takes effect between batches: the due query skips cancelled
// campaigns, so no new batch schedules their jobs, while jobs already
// Processing run to completion.
func (w *Worker) ProcessDue(ctx context.Context) error {
	if w == nil {
		return errors.New("nil worker")
	}
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		jobs, err := w.store.Due(ctx, w.now().UnixMilli(), w.batchSize)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		if !first {
			w.sleep(w.batchDelay)
		}
		first = false

		var wg sync.WaitGroup
		claimedAny := false
		for i := range jobs {
			job := jobs[i]
			claimed, err := w.store.Claim(ctx, job.ID)
			if err != nil {
				w.log.Error("claim failed", "job_id", job.ID, "error", err)
				continue
			}
			if !claimed {
				// Another worker got it first.
				continue
			}
			claimedAny = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.processJob(ctx, job)
			}()
		}
		wg.Wait()
		if !claimedAny {
			// Nothing progressed; avoid spinning on unclaimable jobs.
			return nil
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job Job) {
	// Re-read for attachments; Due selects the lean row only.
	full, err := w.store.Get(ctx, job.ID)
	if err != nil || full == nil {
		w.log.Error("job load failed", "job_id", job.ID, "error", err)
		return
	}

	msgID, sendErr := w.mailer.Send(ctx, Message{
		To:          full.Recipient,
		CC:          full.CC,
		Subject:     full.Subject,
		Text:        full.BodyText,
		HTML:        full.BodyHTML,
		Attachments: full.Attachments,
	})
	if sendErr == nil {
		if err := w.store.MarkSent(ctx, job.ID, msgID); err != nil {
			w.log.Error("mark sent failed", "job_id", job.ID, "error", err)
			return
		}
		w.log.Info("job sent", "job_id", job.ID, "recipient", full.Recipient, "provider_message_id", msgID)
		return
	}

	attempt := full.AttemptCount + 1
	var se *SendError
	permanent := errors.As(sendErr, &se) && se.Permanent

	if permanent || attempt >= w.maxAttempts {
		if err := w.store.MarkFailed(ctx, job.ID, sendErr.Error()); err != nil {
			w.log.Error("mark failed failed", "job_id", job.ID, "error", err)
			return
		}
		w.log.Error("job failed terminally",
			"job_id", job.ID, "recipient", full.Recipient,
			"attempts", attempt, "permanent", permanent, "error", sendErr)
		w.ops.Append(oplog.Entry{
			Event:      "delivery_failed",
			Status:     "failure",
			Error:      sendErr.Error(),
			JobID:      job.ID,
			CampaignID: full.CampaignID,
			Recipient:  full.Recipient,
			Detail:     map[string]any{"attempts": attempt, "permanent": permanent},
		})
		return
	}

	next := w.now().Add(w.backoffDelay(attempt)).UnixMilli()
	if err := w.store.MarkRetry(ctx, job.ID, next, sendErr.Error()); err != nil {
		w.log.Error("mark retry failed", "job_id", job.ID, "error", err)
		return
	}
	w.log.Warn("job send failed, will retry",
		"job_id", job.ID, "attempt", attempt, "of", w.maxAttempts,
		"next_attempt_at_unix_ms", next, "error", sendErr)
}

// backoffDelay is base * 2^(attempt-1): attempt 1 waits base, attempt 2
// waits 2*base, and so on.
func (w *Worker) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := w.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
