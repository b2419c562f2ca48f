package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the on-disk SubmissionStore used by the daemon and CLI.
type SQLiteStore struct {
	db *sql.DB
}

var _ SubmissionStore = (*SQLiteStore)(nil)

// OpenSQLite opens (and migrates) the submission database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(3000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open submission db: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	created_at_unix_ms INTEGER NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	council_name TEXT NOT NULL,
	recipient_email TEXT NOT NULL,
	application_number TEXT NOT NULL,
	site_address TEXT NOT NULL,
	track TEXT NOT NULL DEFAULT '',
	submitter_name TEXT NOT NULL DEFAULT '',
	submitter_address TEXT NOT NULL DEFAULT '',
	submitter_email TEXT NOT NULL DEFAULT '',
	concern_keys TEXT NOT NULL DEFAULT '',
	custom_grounds TEXT NOT NULL DEFAULT '',
	style_sample TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	grounds_body TEXT NOT NULL DEFAULT '',
	provider_id TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL DEFAULT '',
	validation_detail TEXT NOT NULL DEFAULT '',
	artifact_engine TEXT NOT NULL DEFAULT '',
	artifact_pages INTEGER NOT NULL DEFAULT 0,
	delivery_job_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status, created_at_unix_ms);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate submission db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, sub Submission) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not open")
	}
	if strings.TrimSpace(sub.RecipientEmail) == "" {
		return "", errors.New("missing recipient email")
	}
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	status := sub.Status
	if status == "" {
		status = StatusDraft
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO submissions (
	id, created_at_unix_ms, updated_at_unix_ms,
	council_name, recipient_email, application_number, site_address, track,
	submitter_name, submitter_address, submitter_email,
	concern_keys, custom_grounds, style_sample, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, now, now,
		sub.CouncilName, sub.RecipientEmail, sub.ApplicationNumber, sub.SiteAddress, sub.Track,
		sub.SubmitterName, sub.SubmitterAddress, sub.SubmitterEmail,
		strings.Join(sub.ConcernKeys, ","), sub.CustomGrounds, sub.StyleSample, string(status),
	)
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Submission, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not open")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, created_at_unix_ms, updated_at_unix_ms,
	council_name, recipient_email, application_number, site_address, track,
	submitter_name, submitter_address, submitter_email,
	concern_keys, custom_grounds, style_sample, status,
	grounds_body, provider_id, model_id, validation_detail,
	artifact_engine, artifact_pages, delivery_job_id
FROM submissions WHERE id = ?`, id)

	var sub Submission
	var keys, status string
	err := row.Scan(
		&sub.ID, &sub.CreatedAtUnixMs, &sub.UpdatedAtUnixMs,
		&sub.CouncilName, &sub.RecipientEmail, &sub.ApplicationNumber, &sub.SiteAddress, &sub.Track,
		&sub.SubmitterName, &sub.SubmitterAddress, &sub.SubmitterEmail,
		&keys, &sub.CustomGrounds, &sub.StyleSample, &status,
		&sub.GroundsBody, &sub.ProviderID, &sub.ModelID, &sub.ValidationDetail,
		&sub.ArtifactEngine, &sub.ArtifactPages, &sub.DeliveryJobID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load submission: %w", err)
	}
	sub.Status = SubmissionStatus(status)
	if keys != "" {
		sub.ConcernKeys = strings.Split(keys, ",")
	}
	return &sub, nil
}

func (s *SQLiteStore) SetGenerated(ctx context.Context, id, groundsBody, providerID, modelID string) error {
	return s.update(ctx, id, `
UPDATE submissions SET status = ?, grounds_body = ?, provider_id = ?, model_id = ?,
	validation_detail = '', updated_at_unix_ms = ?
WHERE id = ?`,
		string(StatusGenerated), groundsBody, providerID, modelID, time.Now().UnixMilli(), id)
}

func (s *SQLiteStore) SetRejected(ctx context.Context, id, detail string) error {
	return s.update(ctx, id, `
UPDATE submissions SET status = ?, grounds_body = '', validation_detail = ?, updated_at_unix_ms = ?
WHERE id = ?`,
		string(StatusRejected), detail, time.Now().UnixMilli(), id)
}

// SetFinalized requires a prior successful generation; a draft or rejected
// record cannot be finalized.
func (s *SQLiteStore) SetFinalized(ctx context.Context, id, engine string, pages int, jobID string) error {
	return s.update(ctx, id, `
UPDATE submissions SET status = ?, artifact_engine = ?, artifact_pages = ?, delivery_job_id = ?, updated_at_unix_ms = ?
WHERE id = ? AND status = ?`,
		string(StatusFinalized), engine, pages, jobID, time.Now().UnixMilli(), id, string(StatusGenerated))
}

func (s *SQLiteStore) update(ctx context.Context, id, query string, args ...any) error {
	if s == nil || s.db == nil {
		return errors.New("store not open")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("submission %s not in an updatable state", id)
	}
	return nil
}
