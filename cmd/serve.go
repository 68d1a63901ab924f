package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hnpulse/hnpulse/db"
	"github.com/hnpulse/hnpulse/internal/api"
	"github.com/hnpulse/hnpulse/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipeline and HTTP API",
	Long: `Start the full pipeline: the polling ingestion worker, the regeneration
surface, and the HTTP API for status, search and health checks.

Only one instance may run against a data directory at a time; a lock file
guards against accidental double-starts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Two pollers would double-ingest and race on analysis; take an
	// exclusive file lock before touching anything.
	lock := flock.New(a.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another instance is already running (lock: %s)", a.cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	if err := db.Migrate(a.cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	w := worker.New(worker.Config{
		PollInterval:        a.cfg.PollInterval,
		MaxStoryAge:         a.cfg.MaxStoryAge,
		MaxCommentsPerStory: a.cfg.MaxCommentsPerStory,
		CandidateLimit:      a.cfg.CandidateLimit,
	}, a.hn, a.analyzer, a.store, a.index, worker.NewState(), worker.NewMetrics(registry), a.logger)

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer w.Stop()

	server := api.NewServer(a.pool, w.State(), a.store, w, a.searcher(), registry, a.logger)
	a.logger.Info("pipeline running", "addr", a.cfg.ListenAddr, "poll_interval", a.cfg.PollInterval)

	if err := server.Run(ctx, a.cfg.ListenAddr); err != nil {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
