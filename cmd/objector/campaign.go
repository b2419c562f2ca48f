package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/delivery"
)

func campaignCmd(args []string) {
	if len(args) < 1 {
		campaignUsage()
		os.Exit(2)
	}
	switch args[0] {
	case "create":
		campaignCreateCmd(args[1:])
	case "status":
		campaignStatusCmd(args[1:])
	case "cancel":
		campaignCancelCmd(args[1:])
	default:
		campaignUsage()
		os.Exit(2)
	}
}

func campaignUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  objector campaign create -subject <s> -body <b> -recipients <file> [flags]
  objector campaign status <campaign-id>
  objector campaign cancel <campaign-id>

create expands the recipient list into individual delivery jobs up front;
the daemon sends them in batches. cancel stops scheduling between batches
and marks remaining pending jobs cancelled; in-flight sends complete.
`)
}

func campaignCreateCmd(args []string) {
	fs := flag.NewFlagSet("campaign create", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	name := fs.String("name", "", "Campaign name (for operator display)")
	subject := fs.String("subject", "", "Email subject")
	body := fs.String("body", "", "Email body text")
	recipientsPath := fs.String("recipients", "", "File with one recipient email per line")
	_ = fs.Parse(args)

	if strings.TrimSpace(*subject) == "" || strings.TrimSpace(*body) == "" || strings.TrimSpace(*recipientsPath) == "" {
		fs.Usage()
		fatalf("\n-subject, -body and -recipients are required")
	}

	recipients, err := readRecipients(*recipientsPath)
	if err != nil {
		fatalf("failed to read recipients: %v", err)
	}

	cfg := loadConfig(*cfgPath)
	queue := openQueue(cfg)
	defer func() { _ = queue.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	id, err := queue.CreateCampaign(ctx, *name, delivery.Job{
		Subject:  *subject,
		BodyText: *body,
	}, recipients)
	if err != nil {
		fatalf("failed to create campaign: %v", err)
	}
	fmt.Printf("Campaign %s created with %d recipients. Track it with `objector campaign status %s`.\n", id, len(recipients), id)
}

func campaignStatusCmd(args []string) {
	fs := flag.NewFlagSet("campaign status", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		campaignUsage()
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	queue := openQueue(cfg)
	defer func() { _ = queue.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := queue.CampaignProgress(ctx, fs.Arg(0))
	if err != nil {
		fatalf("failed to query campaign: %v", err)
	}
	fmt.Printf("total=%d sent=%d pending=%d processing=%d failed=%d cancelled=%d\n",
		p.Total, p.Sent, p.Pending, p.Processing, p.Failed, p.Cancelled)
}

func campaignCancelCmd(args []string) {
	fs := flag.NewFlagSet("campaign cancel", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		campaignUsage()
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	queue := openQueue(cfg)
	defer func() { _ = queue.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.CancelCampaign(ctx, fs.Arg(0)); err != nil {
		fatalf("failed to cancel campaign: %v", err)
	}
	fmt.Printf("Campaign %s cancelled. In-flight sends will complete; pending jobs were cancelled.\n", fs.Arg(0))
}

func openQueue(cfg *config.Config) *delivery.Store {
	queue, err := delivery.Open(filepath.Join(cfg.StateDir, "queue.sqlite"))
	if err != nil {
		fatalf("failed to open delivery queue: %v", err)
	}
	return queue
}

func readRecipients(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recipients in %s", path)
	}
	return out, nil
}
