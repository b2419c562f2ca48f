// Package record persists the submission lifecycle and loads the project
// file that defines the council context and the concern catalogue. The
// pipeline consumes the two small interfaces here; concrete implementations
// are the yaml project file and a sqlite store.
package record

import (
	"context"
)

// Concern is one catalogue entry a submitter can select. FullText is the
// approved wording the generator must ground itself on.
type Concern struct {
	Key      string `yaml:"key"`
	Summary  string `yaml:"summary"`
	FullText string `yaml:"full_text"`
}

// ConcernStore resolves selected concern keys to their approved text,
// preserving the submitter's chosen order.
type ConcernStore interface {
	Concern(key string) (Concern, bool)
	Select(keys []string) ([]Concern, error)
}

type SubmissionStatus string

const (
	// StatusDraft: created, nothing generated yet.
	StatusDraft SubmissionStatus = "draft"
	// StatusGenerated: generation passed validation; not yet rendered.
	StatusGenerated SubmissionStatus = "generated"
	// StatusRejected: generated text failed a policy rule. Terminal for
	// that generation; a new attempt starts from draft semantics.
	StatusRejected SubmissionStatus = "rejected"
	// StatusFinalized: artifact rendered and delivery enqueued.
	StatusFinalized SubmissionStatus = "finalized"
)

// Submission is one objection being prepared for one recipient. Property
// and application fields are copied in at creation so the document formatter
// never depends on mutable project state.
type Submission struct {
	ID              string
	CreatedAtUnixMs int64
	UpdatedAtUnixMs int64

	CouncilName       string
	RecipientEmail    string
	ApplicationNumber string
	SiteAddress       string
	Track             string

	SubmitterName    string
	SubmitterAddress string
	SubmitterEmail   string

	ConcernKeys   []string
	CustomGrounds string
	StyleSample   string

	Status SubmissionStatus

	// GroundsBody is the sanitized generated text, set only after the
	// validator passes it.
	GroundsBody string
	ProviderID  string
	ModelID     string

	// ValidationDetail carries the rejection rules when Status is rejected.
	ValidationDetail string

	ArtifactEngine string
	ArtifactPages  int
	DeliveryJobID  string
}

// SubmissionStore is the persistence surface the pipeline writes stage
// outcomes through. A render failure leaves the record generated but not
// finalized, so the artifact can be retried without regenerating.
type SubmissionStore interface {
	Create(ctx context.Context, sub Submission) (string, error)
	Get(ctx context.Context, id string) (*Submission, error)
	SetGenerated(ctx context.Context, id, groundsBody, providerID, modelID string) error
	SetRejected(ctx context.Context, id, detail string) error
	SetFinalized(ctx context.Context, id, engine string, pages int, jobID string) error
}
