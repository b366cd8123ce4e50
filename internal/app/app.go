package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"NewsCurator/internal/config"
	"NewsCurator/internal/domain"
	"NewsCurator/internal/editsession"
	"NewsCurator/internal/fingerprint"
	"NewsCurator/internal/infrastructure/cron"
	"NewsCurator/internal/infrastructure/enrich"
	"NewsCurator/internal/infrastructure/source"
	"NewsCurator/internal/infrastructure/storage"
	"NewsCurator/internal/infrastructure/telegram"
	"NewsCurator/internal/lifecycle"
	"NewsCurator/internal/logging"
	"NewsCurator/internal/opsapi"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scheduler"
	"NewsCurator/internal/workflow"
)

// Application wires configuration into the workflow engine and owns the
// lifecycle of its background loops.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	service *workflow.Service
	sched   *scheduler.Scheduler
	scans   ports.ScanScheduler
	runner  *workflow.Runner
	ops     *opsapi.Server
	db      *sql.DB
}

type stores struct {
	drafts   ports.DraftStore
	jobs     ports.JobStore
	failures ports.FailureStore
	vectors  ports.VectorStore
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	app := &Application{cfg: cfg, logger: baseLogger}

	st, err := app.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	transport := telegram.New(telegram.Config{
		BotToken:      cfg.Telegram.BotToken,
		WorkChatID:    cfg.Telegram.WorkChatID,
		ChannelChatID: cfg.Telegram.ChannelChatID,
		Topics:        stateTopics(cfg.Telegram.Topics),
	})

	lc := lifecycle.New(st.drafts, transport, nil, logging.Component(baseLogger, "lifecycle"))
	sessions := editsession.New(st.drafts, lc, nil,
		time.Duration(cfg.EditSession.TTLMinutes)*time.Minute,
		logging.Component(baseLogger, "editsession"))

	app.sched = scheduler.New(scheduler.Config{
		PollInterval: time.Duration(cfg.Publisher.PollIntervalSeconds) * time.Second,
		BatchSize:    cfg.Publisher.BatchSize,
		MaxAttempts:  cfg.Publisher.MaxAttempts,
		BackoffBase:  time.Duration(cfg.Publisher.BackoffBaseSeconds) * time.Second,
		BackoffCap:   time.Duration(cfg.Publisher.BackoffCapSeconds) * time.Second,
		RecoverAfter: time.Duration(cfg.Publisher.RecoverAfterSeconds) * time.Second,
	}, st.jobs, st.drafts, st.failures, lc, nil, logging.Component(baseLogger, "scheduler"))

	app.service = workflow.New(workflow.Config{
		SoftDupWindow: time.Duration(cfg.Fingerprint.SoftDupWindowHours) * time.Hour,
		SoftDupLimit:  cfg.Fingerprint.SoftDupLimit,
	}, workflow.Deps{
		Drafts:   st.drafts,
		Jobs:     st.jobs,
		Vectors:  st.vectors,
		Failures: st.failures,
		Fingerprints: fingerprint.New(fingerprint.Config{
			Dimensions:          cfg.Fingerprint.Dimensions,
			SimilarityThreshold: cfg.Fingerprint.SimilarityThreshold,
		}),
		Lifecycle:  lc,
		Sessions:   sessions,
		Scheduler:  app.sched,
		Enrichment: buildEnrichment(cfg.Enrichment),
		Logger:     logging.Component(baseLogger, "workflow"),
	})

	if len(cfg.Sites) > 0 {
		registry := source.NewRegistry()
		registry.Register(source.NewListingScanner(nil))
		src := source.NewStrategySource(registry, sourceSites(cfg.Sites), logging.Component(baseLogger, "source"))
		app.runner = workflow.NewRunner(app.service, []ports.CandidateSource{src}, logging.Component(baseLogger, "scan"))
		app.scans = cron.New(cfg.Scan.CronExpression, cfg.Scan.RunOnStart)
	}

	if cfg.Ops.ListenAddr != "" {
		app.ops = opsapi.New(cfg.Ops.ListenAddr, app.service, app.runner, logging.Component(baseLogger, "opsapi"))
	}

	return app, nil
}

func (a *Application) buildStores(ctx context.Context) (stores, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn configured, using in-memory store")
		mem := storage.NewMemoryStore()
		return stores{drafts: mem, jobs: mem, failures: mem, vectors: mem}, nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return stores{}, fmt.Errorf("ping database: %w", err)
	}

	pg, err := storage.NewPostgresStore(ctx, db)
	if err != nil {
		return stores{}, err
	}
	a.db = db
	return stores{drafts: pg, jobs: pg, failures: pg, vectors: pg}, nil
}

// Run starts the publication loop, the scan cron and the ops API, then
// blocks until the context is cancelled and everything is shut down.
func (a *Application) Run(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start publication scheduler: %w", err)
	}

	if a.scans != nil {
		job := func(at time.Time) {
			day := at.In(a.cfg.Scan.Location())
			a.runner.Scan(ctx, day)
		}
		if err := a.scans.Start(ctx, job); err != nil {
			return fmt.Errorf("start scan scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	if a.ops != nil {
		go func() {
			if err := a.ops.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	a.logger.Info("application started")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("ops api: %w", err)
	}

	a.shutdown()
	return runErr
}

func (a *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.ops != nil {
		if err := a.ops.Stop(ctx); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("ops api shutdown failed", "error", err)
		}
	}
	if a.scans != nil {
		if err := a.scans.Stop(ctx); err != nil {
			a.logger.Warn("scan scheduler shutdown failed", "error", err)
		}
	}
	if err := a.sched.Stop(ctx); err != nil {
		a.logger.Warn("publication scheduler shutdown failed", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
	a.logger.Info("application stopped")
}

func buildEnrichment(cfg config.EnrichmentConfig) ports.ContentEnrichment {
	switch cfg.Provider {
	case "service":
		return enrich.NewClient(cfg.ServiceURL, cfg.APIKey)
	case "openai":
		return enrich.NewOpenAIClient(enrich.OpenAIConfig{
			Endpoint:     cfg.OpenAI.Endpoint,
			Model:        cfg.OpenAI.Model,
			APIKey:       cfg.OpenAI.APIKey,
			SystemPrompt: cfg.OpenAI.SystemPrompt,
		})
	default:
		return nil
	}
}

func stateTopics(topics map[string]int64) map[domain.DraftState]int64 {
	out := make(map[domain.DraftState]int64, len(topics))
	for name, id := range topics {
		out[domain.DraftState(name)] = id
	}
	return out
}

func sourceSites(sites []config.SiteConfig) []source.Site {
	out := make([]source.Site, 0, len(sites))
	for _, site := range sites {
		sections := make([]source.Section, 0, len(site.Sections))
		for _, section := range site.Sections {
			sections = append(sections, source.Section{Name: section.Name, URL: section.URL})
		}
		out = append(out, source.Site{
			Name:     site.Name,
			Scanner:  site.Scanner,
			Sections: sections,
			Options:  site.Options,
		})
	}
	return out
}
