// Package delivery persists outbound email jobs and processes them with
// bounded retries. Jobs survive process restarts; the status field is the
// only shared mutable state and every transition is an atomic conditional
// update, so two workers can never double-send one job.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job statuses. Pending and Processing are transient; Sent, Failed and
// Cancelled are terminal. A job never moves Pending -> Sent directly.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Campaign statuses.
const (
	CampaignRunning   = "running"
	CampaignCancelled = "cancelled"
)

// Job is one outbound email. Created by a caller (single submission or the
// campaign expander) and mutated only by the queue.
type Job struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id,omitempty"`

	Recipient string   `json:"recipient"`
	CC        []string `json:"cc,omitempty"`
	Subject   string   `json:"subject"`
	BodyText  string   `json:"body_text"`
	BodyHTML  string   `json:"body_html,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Status            string `json:"status"`
	AttemptCount      int    `json:"attempt_count"`
	NextAttemptUnixMs int64  `json:"next_attempt_at_unix_ms"`
	LastError         string `json:"last_error,omitempty"`
	Priority          int    `json:"priority"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Progress is the point-in-time accounting for a campaign (or for the
// whole queue when unscoped). Sent+Failed+Pending+Processing+Cancelled
// always equals Total.
type Progress struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Store is the sqlite-backed job queue.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS delivery_jobs (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL DEFAULT '',
	recipient TEXT NOT NULL,
	cc TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	body_text TEXT NOT NULL DEFAULT '',
	body_html TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	next_attempt_at_unix_ms INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	provider_message_id TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_jobs_due ON delivery_jobs(status, next_attempt_at_unix_ms);
CREATE INDEX IF NOT EXISTS idx_delivery_jobs_campaign ON delivery_jobs(campaign_id);

CREATE TABLE IF NOT EXISTS job_attachments (
	job_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	content BLOB NOT NULL,
	PRIMARY KEY (job_id, filename)
);

CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	total INTEGER NOT NULL DEFAULT 0,
	created_at_unix_ms INTEGER NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Enqueue inserts a new job in Pending. A missing id is generated.
func (s *Store) Enqueue(ctx context.Context, job Job) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	job.Recipient = strings.TrimSpace(job.Recipient)
	if job.Recipient == "" {
		return "", errors.New("missing recipient")
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO delivery_jobs
	(id, campaign_id, recipient, cc, subject, body_text, body_html, status,
	 attempt_count, next_attempt_at_unix_ms, last_error, priority,
	 provider_message_id, created_at_unix_ms, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?, '', ?, ?)`,
		job.ID,
		strings.TrimSpace(job.CampaignID),
		job.Recipient,
		strings.Join(job.CC, ","),
		job.Subject,
		job.BodyText,
		job.BodyHTML,
		StatusPending,
		job.NextAttemptUnixMs,
		job.Priority,
		now, now,
	); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}

	for _, a := range job.Attachments {
		if strings.TrimSpace(a.Filename) == "" {
			return "", errors.New("attachment missing filename")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_attachments (job_id, filename, content) VALUES (?, ?, ?)`,
			job.ID, a.Filename, a.Content,
		); err != nil {
			return "", fmt.Errorf("insert attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Claim performs the exclusive Pending -> Processing transition. Returns
// false when another worker got there first (or the job is not pending).
func (s *Store) Claim(ctx context.Context, jobID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, updated_at_unix_ms = ?
WHERE id = ? AND status = ?`,
		StatusProcessing, time.Now().UnixMilli(), strings.TrimSpace(jobID), StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Due returns pending jobs whose next attempt time has passed, skipping
// jobs that belong to a cancelled campaign. Ordered by priority then age.
func (s *Store) Due(ctx context.Context, nowUnixMs int64, limit int) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT j.id, j.campaign_id, j.recipient, j.cc, j.subject, j.body_text, j.body_html,
	j.status, j.attempt_count, j.next_attempt_at_unix_ms, j.last_error, j.priority,
	j.provider_message_id, j.created_at_unix_ms, j.updated_at_unix_ms
FROM delivery_jobs j
LEFT JOIN campaigns c ON c.id = j.campaign_id
WHERE j.status = ? AND j.next_attempt_at_unix_ms <= ?
	AND (j.campaign_id = '' OR c.status IS NULL OR c.status != ?)
ORDER BY j.priority DESC, j.created_at_unix_ms ASC
LIMIT ?`, StatusPending, nowUnixMs, CampaignCancelled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Get returns one job with its attachments, or nil when absent.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, campaign_id, recipient, cc, subject, body_text, body_html,
	status, attempt_count, next_attempt_at_unix_ms, last_error, priority,
	provider_message_id, created_at_unix_ms, updated_at_unix_ms
FROM delivery_jobs WHERE id = ?`, strings.TrimSpace(jobID))

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, content FROM job_attachments WHERE job_id = ? ORDER BY filename`, j.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.Filename, &a.Content); err != nil {
			return nil, err
		}
		j.Attachments = append(j.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &j, nil
}

// MarkSent finishes a Processing job successfully.
func (s *Store) MarkSent(ctx context.Context, jobID, providerMessageID string) error {
	return s.transition(ctx, jobID, StatusProcessing, StatusSent, `provider_message_id = ?`, providerMessageID)
}

// MarkRetry returns a Processing job to Pending after a transient failure,
// bumping the attempt count and scheduling the next attempt.
func (s *Store) MarkRetry(ctx context.Context, jobID string, nextAttemptUnixMs int64, lastError string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, attempt_count = attempt_count + 1,
	next_attempt_at_unix_ms = ?, last_error = ?, updated_at_unix_ms = ?
WHERE id = ? AND status = ?`,
		StatusPending, nextAttemptUnixMs, truncateError(lastError), time.Now().UnixMilli(),
		strings.TrimSpace(jobID), StatusProcessing)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

// MarkFailed moves a Processing job to the terminal Failed state.
func (s *Store) MarkFailed(ctx context.Context, jobID, lastError string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, attempt_count = attempt_count + 1, last_error = ?, updated_at_unix_ms = ?
WHERE id = ? AND status = ?`,
		StatusFailed, truncateError(lastError), time.Now().UnixMilli(),
		strings.TrimSpace(jobID), StatusProcessing)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

// Requeue puts a Failed job back in Pending with a fresh attempt budget.
// Operator action (resend); not used by the worker.
func (s *Store) Requeue(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE delivery_jobs
SET status = ?, attempt_count = 0, next_attempt_at_unix_ms = 0, last_error = '', updated_at_unix_ms = ?
WHERE id = ? AND status = ?`,
		StatusPending, time.Now().UnixMilli(), strings.TrimSpace(jobID), StatusFailed)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

// ResetProcessing returns every in-flight job to Pending. Call once at
// worker startup: the daemon lockfile means no other process can hold a
// live claim, so a Processing row at that point is an orphan from an
// unclean shutdown and would otherwise be stranded forever.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE delivery_jobs SET status = ?, updated_at_unix_ms = ?
WHERE status = ?`,
		StatusPending, time.Now().UnixMilli(), StatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) transition(ctx context.Context, jobID, from, to, extraSet string, extraArg any) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	q := fmt.Sprintf(`UPDATE delivery_jobs SET status = ?, updated_at_unix_ms = ?, %s WHERE id = ? AND status = ?`, extraSet)
	res, err := s.db.ExecContext(ctx, q, to, time.Now().UnixMilli(), extraArg, strings.TrimSpace(jobID), from)
	if err != nil {
		return err
	}
	return requireOneRow(res, jobID)
}

func requireOneRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s: conflicting status transition", jobID)
	}
	return nil
}

// CreateCampaign registers a campaign and expands the recipient list into
// individual pending jobs, all up front.
func (s *Store) CreateCampaign(ctx context.Context, name string, template Job, recipients []string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if len(recipients) == 0 {
		return "", errors.New("empty recipient list")
	}
	id := uuid.NewString()
	now := time.Now().UnixMilli()

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO campaigns (id, name, status, total, created_at_unix_ms, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		id, strings.TrimSpace(name), CampaignRunning, len(recipients), now, now); err != nil {
		return "", fmt.Errorf("insert campaign: %w", err)
	}

	for _, rcpt := range recipients {
		job := template
		job.ID = ""
		job.CampaignID = id
		job.Recipient = strings.TrimSpace(rcpt)
		if _, err := s.Enqueue(ctx, job); err != nil {
			return "", fmt.Errorf("expand campaign: %w", err)
		}
	}
	return id, nil
}

// CancelCampaign stops scheduling new batches for the campaign. Jobs
// already Processing are left to complete; remaining Pending jobs are
// marked Cancelled.
func (s *Store) CancelCampaign(ctx context.Context, campaignID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	campaignID = strings.TrimSpace(campaignID)
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE campaigns SET status = ?, updated_at_unix_ms = ? WHERE id = ? AND status = ?`,
		CampaignCancelled, now, campaignID, CampaignRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("campaign %s: not running", campaignID)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE delivery_jobs SET status = ?, updated_at_unix_ms = ?
WHERE campaign_id = ? AND status = ?`,
		StatusCancelled, now, campaignID, StatusPending); err != nil {
		return err
	}

	return tx.Commit()
}

// CampaignProgress returns the live counters for one campaign. Queryable
// at any point during a run.
func (s *Store) CampaignProgress(ctx context.Context, campaignID string) (Progress, error) {
	if s == nil || s.db == nil {
		return Progress{}, errors.New("store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM delivery_jobs WHERE campaign_id = ? GROUP BY status`,
		strings.TrimSpace(campaignID))
	if err != nil {
		return Progress{}, err
	}
	defer rows.Close()

	var p Progress
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Progress{}, err
		}
		p.Total += count
		switch status {
		case StatusPending:
			p.Pending = count
		case StatusProcessing:
			p.Processing = count
		case StatusSent:
			p.Sent = count
		case StatusFailed:
			p.Failed = count
		case StatusCancelled:
			p.Cancelled = count
		}
	}
	return p, rows.Err()
}

// ListByStatus returns jobs in one status, newest first. Operator surface.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, campaign_id, recipient, cc, subject, body_text, body_html,
	status, attempt_count, next_attempt_at_unix_ms, last_error, priority,
	provider_message_id, created_at_unix_ms, updated_at_unix_ms
FROM delivery_jobs WHERE status = ?
ORDER BY updated_at_unix_ms DESC
LIMIT ?`, strings.TrimSpace(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var cc string
	if err := r.Scan(
		&j.ID, &j.CampaignID, &j.Recipient, &cc, &j.Subject, &j.BodyText, &j.BodyHTML,
		&j.Status, &j.AttemptCount, &j.NextAttemptUnixMs, &j.LastError, &j.Priority,
		&j.ProviderMessageID, &j.CreatedAtUnixMs, &j.UpdatedAtUnixMs,
	); err != nil {
		return Job{}, err
	}
	if cc != "" {
		j.CC = strings.Split(cc, ",")
	}
	return j, nil
}

func truncateError(s string) string {
	const maxRunes = 600
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= maxRunes {
		return string(rs)
	}
	return string(rs[:maxRunes])
}
