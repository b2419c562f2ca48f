package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/delivery"
)

func queueCmd(args []string) {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	status := fs.String("status", delivery.StatusPending, "Job status to list: pending|processing|sent|failed|cancelled")
	limit := fs.Int("limit", 50, "Maximum jobs to list")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	queue := openQueue(cfg)
	defer func() { _ = queue.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobs, err := queue.ListByStatus(ctx, *status, *limit)
	if err != nil {
		fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) == 0 {
		fmt.Printf("no %s jobs\n", *status)
		return
	}
	for _, j := range jobs {
		line := fmt.Sprintf("%s  %s  attempts=%d", j.ID, j.Recipient, j.AttemptCount)
		if j.LastError != "" {
			line += "  last_error=" + j.LastError
		}
		fmt.Println(line)
	}
}

func resendCmd(args []string) {
	fs := flag.NewFlagSet("resend", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: objector resend <job-id>\n")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	queue := openQueue(cfg)
	defer func() { _ = queue.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobID := fs.Arg(0)
	if err := queue.Requeue(ctx, jobID); err != nil {
		fatalf("failed to re-queue job: %v", err)
	}
	fmt.Printf("Job %s re-queued with a fresh attempt budget.\n", jobID)
}
