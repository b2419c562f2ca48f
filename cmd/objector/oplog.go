package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/oplog"
)

func oplogCmd(args []string) {
	fs := flag.NewFlagSet("oplog", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 50, "Maximum events to list, newest first")
	_ = fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	log := config.NewLogger(cfg.LogFormat, cfg.LogLevel)

	store, err := oplog.New(oplog.Options{Logger: log, StateDir: cfg.StateDir})
	if err != nil {
		fatalf("failed to open operator event log: %v", err)
	}

	entries, err := store.List(*limit)
	if err != nil {
		fatalf("failed to list events: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("no events")
		return
	}
	for _, e := range entries {
		fmt.Println(formatOplogEntry(e))
	}
}

// formatOplogEntry renders one event per line, key=value for the optional
// fields so the output greps cleanly.
func formatOplogEntry(e oplog.Entry) string {
	parts := []string{e.CreatedAt, e.Event, e.Status}
	add := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("submission", e.SubmissionID)
	add("job", e.JobID)
	add("campaign", e.CampaignID)
	add("recipient", e.Recipient)
	add("provider", e.Provider)
	add("engine", e.Engine)
	add("rule", e.Rule)
	add("error", e.Error)
	return strings.Join(parts, "  ")
}
