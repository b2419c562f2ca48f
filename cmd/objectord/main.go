// objectord is the long-running delivery daemon: it owns the queue database
// and sends queued submissions on an interval, with bounded retries. One
// instance per state directory, enforced by a lockfile.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/councilworks/objector/internal/config"
	"github.com/councilworks/objector/internal/delivery"
	"github.com/councilworks/objector/internal/lockfile"
	"github.com/councilworks/objector/internal/oplog"
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
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("objectord %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `objectord

Usage:
  objectord run [flags]
  objectord version

Commands:
  run       Run the delivery daemon (polls the queue, sends due jobs).
  version   Print build information.

`)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfgPathClean := filepath.Clean(*cfgPath)
	cfg, err := config.Load(cfgPathClean)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogFormat, cfg.LogLevel)

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init state dir: %v\n", err)
		os.Exit(1)
	}

	// One daemon per state directory; two pollers would race on claims and
	// double the send rate against the relay.
	lockPath := filepath.Join(cfg.StateDir, "objectord.lock")
	lk, err := lockfile.Acquire(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to acquire daemon lock (%s): %v\n", lockPath, err)
		os.Exit(1)
	}
	defer func() { _ = lk.Release() }()

	queue, err := delivery.Open(filepath.Join(cfg.StateDir, "queue.sqlite"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open delivery queue: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

	ops, err := oplog.New(oplog.Options{Logger: log, StateDir: cfg.StateDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open operator event log: %v\n", err)
		os.Exit(1)
	}

	mailer, err := delivery.NewSMTPMailer(cfg.Delivery.SMTP, cfg.Delivery.From, cfg.Delivery.ReplyTo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init mail transport: %v\n", err)
		os.Exit(1)
	}

	worker, err := delivery.NewWorker(delivery.WorkerOptions{
		Logger:       log,
		Store:        queue,
		Mailer:       mailer,
		Ops:          ops,
		PollInterval: time.Duration(cfg.Delivery.PollSeconds) * time.Second,
		MaxAttempts:  cfg.Delivery.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Delivery.RetryBackoffSeconds) * time.Second,
		BatchSize:    cfg.Delivery.BatchSize,
		BatchDelay:   time.Duration(cfg.Delivery.BatchDelayMs) * time.Millisecond,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init delivery worker: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	log.Info("objectord started", "version", Version, "state_dir", cfg.StateDir)
	worker.Run(ctx)
}
