// Package pipeline drives one submission end to end: generate the grounds
// text, validate it against content policy, format the document, render the
// PDF artifact and enqueue delivery. Each stage writes its outcome to the
// submission record, so a failure is resumable from the last good stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/delivery"
	"github.com/councilworks/objector/internal/document"
	"github.com/councilworks/objector/internal/llm"
	"github.com/councilworks/objector/internal/oplog"
	"github.com/councilworks/objector/internal/policy"
	"github.com/councilworks/objector/internal/record"
	"github.com/councilworks/objector/internal/render"
)

// User-facing sentinels. They deliberately name no provider, engine or
// internal component; the detail goes to the log and the operator event log.
var (
	// ErrGenerationUnavailable: every generation backend failed.
	ErrGenerationUnavailable = errors.New("the letter could not be generated right now, please try again shortly")

	// ErrContentRejected: the generated text violated content policy and
	// was discarded.
	ErrContentRejected = errors.New("the generated letter did not meet content rules and was discarded")

	// ErrArtifactUnavailable: the document could not be rendered. The
	// submission keeps its generated text and can be finalized again.
	ErrArtifactUnavailable = errors.New("the submission document could not be produced, please try again")
)

// Service wires the stages together. All collaborators are required except
// Ops, which degrades to log-only observability.
type Service struct {
	log *slog.Logger

	gen      *llm.Orchestrator
	renderer *render.Renderer
	queue    *delivery.Store
	subs     record.SubmissionStore
	concerns record.ConcernStore
	ops      *oplog.Store

	project    *record.Project
	validation config.ValidationConfig
}

type Options struct {
	Logger *slog.Logger

	Orchestrator *llm.Orchestrator
	Renderer     *render.Renderer
	Queue        *delivery.Store
	Submissions  record.SubmissionStore
	Concerns     record.ConcernStore
	Ops          *oplog.Store

	Project    *record.Project
	Validation config.ValidationConfig
}

func NewService(opts Options) (*Service, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("missing orchestrator")
	}
	if opts.Renderer == nil {
		return nil, errors.New("missing renderer")
	}
	if opts.Queue == nil {
		return nil, errors.New("missing delivery queue")
	}
	if opts.Submissions == nil {
		return nil, errors.New("missing submission store")
	}
	if opts.Concerns == nil {
		return nil, errors.New("missing concern store")
	}
	if opts.Project == nil {
		return nil, errors.New("missing project")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Service{
		log:        logger,
		gen:        opts.Orchestrator,
		renderer:   opts.Renderer,
		queue:      opts.Queue,
		subs:       opts.Submissions,
		concerns:   opts.Concerns,
		ops:        opts.Ops,
		project:    opts.Project,
		validation: opts.Validation,
	}, nil
}

// Run takes a draft submission through generation and finalization in one
// call. It returns the delivery job id.
func (s *Service) Run(ctx context.Context, submissionID string) (string, error) {
	if err := s.Generate(ctx, submissionID); err != nil {
		return "", err
	}
	return s.Finalize(ctx, submissionID)
}

// Generate produces and validates the grounds text for a submission. On a
// policy rejection the record is marked rejected and the text discarded;
// rejection is never retried automatically.
func (s *Service) Generate(ctx context.Context, submissionID string) error {
	sub, err := s.subs.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("submission %s not found", submissionID)
	}

	concerns, err := s.concerns.Select(sub.ConcernKeys)
	if err != nil {
		return err
	}
	if len(concerns) == 0 {
		return errors.New("no concerns selected")
	}

	req := llm.Request{
		Meta: llm.Metadata{
			Recipient:         sub.RecipientEmail,
			Subject:           "Objection to development application " + sub.ApplicationNumber,
			ApplicationNumber: sub.ApplicationNumber,
			SiteAddress:       sub.SiteAddress,
			Track:             sub.Track,
		},
		ApprovedFacts: s.project.ApprovedFacts,
		StyleSample:   sub.StyleSample,
		StyleMode:     s.project.StyleMode,
		WordLimit:     s.validation.WordLimit,
	}
	sourceTexts := make([]string, 0, len(concerns))
	for _, c := range concerns {
		req.Concerns = append(req.Concerns, llm.Concern{Key: c.Key, FullText: c.FullText})
		sourceTexts = append(sourceTexts, c.FullText)
	}

	res, err := s.gen.Generate(ctx, req)
	if err != nil {
		s.log.Error("generation failed", "submission_id", submissionID, "error", err)
		s.ops.Append(oplog.Entry{
			Event:        "generation_failed",
			Status:       "failure",
			Error:        err.Error(),
			SubmissionID: submissionID,
		})
		return ErrGenerationUnavailable
	}

	outcome := policy.Validate(res.RawText, policy.Constraints{
		WordLimit:             s.validation.WordLimit,
		SoftMinRatio:          s.validation.SoftMinRatio,
		AllowedLinks:          append(append([]string{}, s.validation.AllowedLinks...), s.project.AllowedLinks...),
		ExtraForbiddenPhrases: s.validation.ExtraForbiddenPhrases,
		SourceConcerns:        sourceTexts,
	})

	if outcome.Status == policy.StatusRejected {
		detail := violationSummary(outcome.Violations)
		if err := s.subs.SetRejected(ctx, submissionID, detail); err != nil {
			return err
		}
		s.log.Warn("generated text rejected", "submission_id", submissionID, "detail", detail)
		s.ops.Append(oplog.Entry{
			Event:        "validation_rejected",
			Status:       "failure",
			SubmissionID: submissionID,
			Provider:     res.ProviderID,
			Detail:       map[string]any{"violations": outcome.Violations},
		})
		return ErrContentRejected
	}

	for _, w := range outcome.Warnings {
		s.log.Warn("validation warning", "submission_id", submissionID, "rule", w.Rule, "detail", w.Detail)
	}

	if err := s.subs.SetGenerated(ctx, submissionID, outcome.SanitizedText, res.ProviderID, res.ModelID); err != nil {
		return err
	}
	s.log.Info("grounds generated",
		"submission_id", submissionID, "provider", res.ProviderID, "model", res.ModelID,
		"attempts", res.Attempts, "prompt_tokens", res.PromptTokens, "completion_tokens", res.CompletionTokens)
	return nil
}

// Finalize formats and renders the document and enqueues delivery. On a
// render failure the record keeps its generated text for a later retry.
func (s *Service) Finalize(ctx context.Context, submissionID string) (string, error) {
	sub, err := s.subs.Get(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", fmt.Errorf("submission %s not found", submissionID)
	}
	if sub.Status != record.StatusGenerated {
		return "", fmt.Errorf("submission %s is %s, expected generated", submissionID, sub.Status)
	}

	doc := document.Format(document.Metadata{
		CouncilName:       sub.CouncilName,
		RecipientEmail:    sub.RecipientEmail,
		ApplicationNumber: sub.ApplicationNumber,
		SiteAddress:       sub.SiteAddress,
		SubmitterName:     sub.SubmitterName,
		SubmitterAddress:  sub.SubmitterAddress,
		SubmitterEmail:    sub.SubmitterEmail,
	}, sub.GroundsBody, sub.CustomGrounds, s.project.Declaration)

	artifact, err := s.renderer.Render(ctx, doc)
	if err != nil {
		s.log.Error("render failed, submission left unfinalized",
			"submission_id", submissionID, "error", err)
		s.ops.Append(oplog.Entry{
			Event:        "render_failed",
			Status:       "failure",
			Error:        err.Error(),
			SubmissionID: submissionID,
		})
		return "", ErrArtifactUnavailable
	}
	if artifact.Engine == render.EngineFallback {
		s.ops.Append(oplog.Entry{
			Event:        "render_fallback",
			Status:       "ok",
			SubmissionID: submissionID,
			Engine:       string(artifact.Engine),
		})
	}

	job := delivery.Job{
		Recipient: sub.RecipientEmail,
		Subject:   doc.Title(),
		BodyText:  doc.PlainText(),
		Attachments: []delivery.Attachment{
			{Filename: artifactFilename(sub.ApplicationNumber), Content: artifact.PDF},
		},
	}
	// The submitter gets a copy of what was sent on their behalf.
	if strings.TrimSpace(sub.SubmitterEmail) != "" {
		job.CC = []string{sub.SubmitterEmail}
	}

	jobID, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	if err := s.subs.SetFinalized(ctx, submissionID, string(artifact.Engine), artifact.PageCount, jobID); err != nil {
		return "", err
	}
	s.log.Info("submission finalized",
		"submission_id", submissionID, "job_id", jobID,
		"engine", artifact.Engine, "pages", artifact.PageCount)
	return jobID, nil
}

func violationSummary(vs []policy.Violation) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, v.Rule+": "+v.Detail)
	}
	return strings.Join(parts, "; ")
}

func artifactFilename(applicationNumber string) string {
	clean := strings.NewReplacer("/", "-", "\\", "-", " ", "-").Replace(applicationNumber)
	return "objection-" + clean + ".pdf"
}
