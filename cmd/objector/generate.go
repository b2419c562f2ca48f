package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/delivery"
	"github.com/councilworks/objector/internal/llm"
	"github.com/councilworks/objector/internal/oplog"
	"github.com/councilworks/objector/internal/pipeline"
	"github.com/councilworks/objector/internal/record"
	"github.com/councilworks/objector/internal/render"
)

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)

	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	projectPath := fs.String("project", "", "Project file (yaml) with council context and the concern catalogue")

	name := fs.String("name", "", "Submitter name")
	address := fs.String("address", "", "Submitter postal address")
	email := fs.String("email", "", "Submitter email (receives a copy of the sent objection)")

	concerns := fs.String("concerns", "", "Comma-separated concern keys, in presentation order")
	customGrounds := fs.String("custom-grounds", "", "Submitter's own grounds, emitted before the generated grounds")
	styleSample := fs.String("style-sample", "", "Optional writing sample from the submitter")

	timeout := fs.Duration("timeout", 5*time.Minute, "Overall pipeline timeout")

	_ = fs.Parse(args)

	if strings.TrimSpace(*projectPath) == "" || strings.TrimSpace(*name) == "" || strings.TrimSpace(*concerns) == "" {
		fs.Usage()
		fatalf("\n-project, -name and -concerns are required")
	}

	cfg := loadConfig(*cfgPath)
	log := config.NewLogger(cfg.LogFormat, cfg.LogLevel)

	project, err := record.LoadProject(*projectPath)
	if err != nil {
		fatalf("failed to load project: %v", err)
	}

	subs, err := record.OpenSQLite(filepath.Join(cfg.StateDir, "records.sqlite"))
	if err != nil {
		fatalf("failed to open submission store: %v", err)
	}
	defer func() { _ = subs.Close() }()

	queue, err := delivery.Open(filepath.Join(cfg.StateDir, "queue.sqlite"))
	if err != nil {
		fatalf("failed to open delivery queue: %v", err)
	}
	defer func() { _ = queue.Close() }()

	ops, err := oplog.New(oplog.Options{Logger: log, StateDir: cfg.StateDir})
	if err != nil {
		fatalf("failed to open operator event log: %v", err)
	}

	svc, closeRender, err := buildPipeline(cfg, project, log, subs, queue, ops)
	if err != nil {
		fatalf("failed to init pipeline: %v", err)
	}
	defer closeRender()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	id, err := subs.Create(ctx, record.Submission{
		CouncilName:       project.CouncilName,
		RecipientEmail:    project.RecipientEmail,
		ApplicationNumber: project.ApplicationNumber,
		SiteAddress:       project.SiteAddress,
		Track:             project.Track,
		SubmitterName:     *name,
		SubmitterAddress:  *address,
		SubmitterEmail:    *email,
		ConcernKeys:       splitTrimmed(*concerns),
		CustomGrounds:     *customGrounds,
		StyleSample:       *styleSample,
	})
	if err != nil {
		fatalf("failed to create submission: %v", err)
	}

	jobID, err := svc.Run(ctx, id)
	if err != nil {
		fatalf("submission %s: %v", id, err)
	}
	fmt.Printf("Submission %s queued for delivery (job %s). The daemon sends it on its next pass.\n", id, jobID)
}

// buildPipeline wires the generation, render and policy stages from config.
// The returned close func shuts down the shared Chrome instance, if any.
func buildPipeline(cfg *config.Config, project *record.Project, log *slog.Logger, subs record.SubmissionStore, queue *delivery.Store, ops *oplog.Store) (*pipeline.Service, func(), error) {
	var providers []llm.Provider
	if !cfg.Generation.MockMode {
		var err error
		providers, err = llm.NewProviders(cfg.Generation.Providers)
		if err != nil {
			return nil, nil, err
		}
	}
	orch, err := llm.NewOrchestrator(llm.OrchestratorOptions{
		Logger:             log,
		Providers:          providers,
		RetriesPerProvider: cfg.Generation.RetriesPerProvider,
		Backoff:            time.Duration(cfg.Generation.RetryBackoffMs) * time.Millisecond,
		Timeout:            time.Duration(cfg.Generation.RequestTimeoutSeconds) * time.Second,
		Mock:               cfg.Generation.MockMode,
	})
	if err != nil {
		return nil, nil, err
	}

	closeRender := func() {}
	var primary render.Engine
	if !cfg.Render.DisablePrimary {
		chrome := render.NewChromeEngine(render.ChromeOptions{
			ExecPath:       cfg.Render.ChromePath,
			AttemptTimeout: time.Duration(cfg.Render.AttemptTimeoutSeconds) * time.Second,
		})
		primary = chrome
		closeRender = func() { chrome.Close() }
	}
	renderer, err := render.NewRenderer(render.RendererOptions{
		Logger:   log,
		Primary:  primary,
		Fallback: render.NewPDFEngine(),
	})
	if err != nil {
		closeRender()
		return nil, nil, err
	}

	svc, err := pipeline.NewService(pipeline.Options{
		Logger:       log,
		Orchestrator: orch,
		Renderer:     renderer,
		Queue:        queue,
		Submissions:  subs,
		Concerns:     project,
		Ops:          ops,
		Project:      project,
		Validation:   cfg.Validation,
	})
	if err != nil {
		closeRender()
		return nil, nil, err
	}
	return svc, closeRender, nil
}

func splitTrimmed(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
