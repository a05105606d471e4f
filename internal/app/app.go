// Package app wires configuration, logging and the pipeline for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/ai"
	"github.com/david/bidwatch/internal/config"
	"github.com/david/bidwatch/internal/db"
	"github.com/david/bidwatch/internal/ingest"
	"github.com/david/bidwatch/internal/logging"
	"github.com/david/bidwatch/internal/store"
)

// App holds what every command needs. Close releases the database pool.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *ingest.Registry
	Zone     *time.Location
	Ledger   *db.RunLedger

	pool *pgxpool.Pool
}

// Load reads configuration and builds the shared pieces. The run ledger is
// optional: without a DSN, or when the database is unreachable, it stays disabled.
func Load(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	reg, err := ingest.LoadRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Zone:     ingest.LoadZone(cfg.Window.Timezone),
	}

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	switch {
	case errors.Is(err, db.ErrNoDSN):
		logger.Debug("DATABASE_URL not set, run ledger disabled")
	case err != nil:
		logger.Warn("database unavailable, run ledger disabled", zap.Error(err))
	default:
		if err := db.ApplyMigrations(ctx, pool, logger.Named("migrate")); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool = pool
		a.Ledger = db.NewRunLedger(pool)
	}
	return a, nil
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.Logger.Sync()
}

// Pipeline builds a pipeline. With withClassifier set the classifier
// credentials are required and a missing key is returned as a configuration error.
func (a *App) Pipeline(withClassifier bool) (*ingest.Pipeline, error) {
	var classifier *ai.Classifier
	if withClassifier {
		if err := a.Config.RequireClassifier(); err != nil {
			return nil, err
		}
		cc := a.Config.Classifier
		client := ai.NewOpenAIClient(cc.APIKey, cc.BaseURL, cc.Model)
		client.Temperature = cc.Temperature
		client.TopP = cc.TopP
		classifier = ai.NewClassifier(client,
			ai.WithPacer(ai.NewPacer(cc.CallInterval)),
			ai.WithRetry(ai.RetryPolicy{MaxAttempts: cc.MaxAttempts, Initial: cc.BackoffStart, Max: cc.BackoffMax}),
			ai.WithLogger(a.Logger.Named("classifier")),
		)
	}

	extractor := ingest.NewContentExtractor(
		ingest.NewHTTPDetailFetcher(a.Registry.Detail),
		ingest.NewDetailResolver(a.Registry.Detail),
		a.Logger.Named("extract"),
	)

	p := ingest.NewPipeline(a.Registry, a.Zone, classifier, extractor, a.Logger.Named("pipeline"))
	p.Listings = ingest.NewCollyListingFetcher(a.Logger.Named("fetch"))
	p.Ledger = a.Ledger
	p.Accepted = ingest.AcceptedSet(a.Config.Extract.AcceptedTypes)
	p.OpeningsDays = a.Config.Window.OpeningsDays
	p.BulletinsDays = a.Config.Window.BulletinsDays
	return p, nil
}

// Target is one document a stage runs over.
type Target struct {
	Kind store.Kind
	Path string
}

// Targets resolves an --only flag value: openings, bulletins or both.
func (a *App) Targets(only string) ([]Target, error) {
	openings := Target{Kind: store.KindOpenings, Path: a.Config.Documents.Openings}
	bulletins := Target{Kind: store.KindBulletins, Path: a.Config.Documents.Bulletins}
	switch only {
	case "", "both":
		return []Target{openings, bulletins}, nil
	case "openings":
		return []Target{openings}, nil
	case "bulletins":
		return []Target{bulletins}, nil
	default:
		return nil, fmt.Errorf("invalid --only value %q (want openings, bulletins or both)", only)
	}
}

// StageFunc is the shape shared by the per-document pipeline stages.
type StageFunc func(ctx context.Context, kind store.Kind, path string) (ingest.StageStats, error)

// RunStage runs fn over every target. A stage error on one document is
// logged and does not stop the others; the collected stats are returned.
func (a *App) RunStage(ctx context.Context, targets []Target, fn StageFunc) []ingest.StageStats {
	var out []ingest.StageStats
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		stats, err := fn(ctx, t.Kind, t.Path)
		if err != nil {
			a.Logger.Warn("stage did not complete", zap.String("document", t.Path), zap.Error(err))
		}
		out = append(out, stats)
	}
	return out
}

// RenderStats prints a stage summary table.
func RenderStats(w io.Writer, stats []ingest.StageStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Stage", "Document", "Considered", "Updated", "Skipped", "Failed", "Duration"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Stage, s.Document, s.Considered, s.Updated, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond).String()})
	}
	t.Render()
}
