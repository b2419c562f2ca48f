// objector is the operator CLI: it prepares and finalizes single
// submissions, runs bulk campaigns, and inspects or repairs the delivery
// queue. The objectord daemon does the actual sending.
package main

import (
	"fmt"
	"os"

	"github.com/councilworks/objector/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "generate":
		generateCmd(os.Args[2:])
	case "campaign":
		campaignCmd(os.Args[2:])
	case "queue":
		queueCmd(os.Args[2:])
	case "resend":
		resendCmd(os.Args[2:])
	case "oplog":
		oplogCmd(os.Args[2:])
	case "version":
		fmt.Printf("objector %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `objector

Usage:
  objector generate [flags]
  objector campaign create|status|cancel [args]
  objector queue [flags]
  objector resend <job-id>
  objector oplog [flags]
  objector version

Commands:
  generate   Generate, validate, render and enqueue one objection submission.
  campaign   Create, inspect or cancel a bulk notification campaign.
  queue      List delivery jobs by status.
  resend     Re-queue a terminally failed delivery job.
  oplog      List recent operator events (failures, rejections, fallbacks).
  version    Print build information.

`)
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
