// cmd/service/app.go
package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"repo-insights/internal/activity"
	"repo-insights/internal/aggregate"
	"repo-insights/internal/api"
	"repo-insights/internal/config"
	"repo-insights/internal/dag"
	"repo-insights/internal/database"
	"repo-insights/internal/github"
	"repo-insights/internal/gitx"
	"repo-insights/internal/ingest"
	"repo-insights/internal/stats"
	"repo-insights/internal/syncer"
	"repo-insights/internal/workcopy"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	syncer *syncer.Syncer
	dag    *dag.Resolver
	router http.Handler
}

func newApp(cfg *config.Config, store database.Store, logger *slog.Logger) (*app, error) {
	runner := &gitx.GitRunner{GitBin: cfg.GitBin}
	copies := workcopy.NewManager(runner, logger, workcopy.Options{
		WorkDir:             cfg.WorkDir,
		FetchFreshness:      cfg.FetchFreshness,
		LockTimeout:         cfg.LockTimeout,
		LockArtifactRetries: cfg.LockArtifactRetries,
	})
	pipeline := ingest.NewPipeline(store, runner, logger, cfg.DefaultBranch)
	processor := stats.NewProcessor(store, runner, logger, cfg.StatsWorkers)
	diffs := stats.NewDiffCache(store, runner, copies, logger, cfg.StatsWorkers)
	importer := activity.NewImporter(store, github.NewClient(cfg.GithubToken, logger), logger)

	appSyncer, err := syncer.NewSyncer(store, copies, pipeline, processor, diffs, importer, logger, syncer.Config{
		ReposToSync:      cfg.ReposToSync,
		SyncInterval:     cfg.SyncInterval,
		RepoPollAttempts: cfg.RepoPollAttempts,
		RepoPollDelay:    cfg.RepoPollDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create syncer: %w", err)
	}
	engine, err := aggregate.NewEngine(store, copies, logger, cfg.IgnorePaths)
	if err != nil {
		return nil, fmt.Errorf("invalid IGNORE_PATHS: %w", err)
	}

	resolver := dag.NewResolver(store, runner, copies, logger)
	router := api.NewRouter(api.Deps{
		Store:      store,
		Syncer:     appSyncer,
		DAG:        resolver,
		Aggregates: engine,
		Files:      diffs,
	}, logger)

	return &app{cfg: cfg, logger: logger, syncer: appSyncer, dag: resolver, router: router}, nil
}
