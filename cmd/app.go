package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hnpulse/hnpulse/internal/analysis"
	"github.com/hnpulse/hnpulse/internal/config"
	"github.com/hnpulse/hnpulse/internal/database"
	"github.com/hnpulse/hnpulse/internal/hn"
	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/search"
	"github.com/hnpulse/hnpulse/internal/store"
	"github.com/hnpulse/hnpulse/internal/vecindex"
)

// app holds the shared dependencies the subcommands wire together.
type app struct {
	cfg    *config.Config
	logger log.Logger
	pool   *pgxpool.Pool

	store    *store.Store
	index    *vecindex.Index
	hn       *hn.Client
	analyzer *analysis.Client
}

// setupApp loads and validates config, opens the database, and constructs
// the shared clients. Callers must Close the returned app.
func setupApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})

	pool, err := database.Open(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		store:  store.New(pool, logger),
		index:  vecindex.New(pool, logger),
		hn:     hn.NewClient(logger, hn.WithBaseURL(cfg.HNBaseURL)),
		analyzer: analysis.NewClient(analysis.Config{
			APIKey:     cfg.AnalysisAPIKey,
			BaseURL:    cfg.AnalysisBaseURL,
			Model:      cfg.AnalysisModel,
			EmbedModel: cfg.EmbedModel,
			Pacing:     cfg.AnalysisPacing,
		}, logger),
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// searcher builds the semantic search service over the app's clients.
func (a *app) searcher() *search.Searcher {
	return search.New(a.analyzer, a.index, a.store, a.logger)
}
