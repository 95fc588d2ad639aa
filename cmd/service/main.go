// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"repo-insights/internal/config"
	"repo-insights/internal/database"
	"repo-insights/internal/syncer"
)

var migrationsPath = "file://migrations"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "repo-insights",
		Short: "Repository history ingestion and contribution analytics",
		Long: `repo-insights mirrors git repositories, stores their full history in Postgres
and serves commit graphs, contribution percentages and change trees.

Use 'repo-insights serve' to run the HTTP API with periodic sync,
'repo-insights sync <url>' for a one-shot sync and 'repo-insights migrate' to
apply database migrations.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				// Start the syncer in a separate goroutine
				go a.syncer.Start(ctx)

				srv := &http.Server{
					Addr:              a.cfg.HTTPAddr,
					Handler:           a.router,
					ReadHeaderTimeout: 10 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					a.logger.Info("HTTP server listening", "addr", a.cfg.HTTPAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				// Wait for shutdown signal
				select {
				case <-ctx.Done():
					a.logger.Info("Shutdown signal received. Exiting.")
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("http server: %w", err)
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
}

func newSyncCmd() *cobra.Command {
	var opts syncer.Options
	cmd := &cobra.Command{
		Use:   "sync <repo-url>",
		Short: "Synchronize one repository and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				start := time.Now()
				if err := a.syncer.EnsureSynced(ctx, args[0], opts); err != nil {
					return err
				}
				a.logger.Info("Sync complete", "repo", args[0], "duration", time.Since(start).String())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Commits, "commits", true, "ingest commits, files, branches and parents")
	cmd.Flags().BoolVar(&opts.Stats, "stats", true, "compute per-file line counts")
	cmd.Flags().BoolVar(&opts.Diffs, "diffs", false, "compute and cache per-file diffs")
	cmd.Flags().BoolVar(&opts.ExternalActivity, "activity", false, "import pull requests, issues and comments")
	cmd.Flags().BoolVar(&opts.ForceFetch, "force", false, "fetch even if the working copy is fresh")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if err := runMigrations(cfg.DBURL); err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			logger.Info("Database migrations applied successfully")
			return nil
		},
	}
}

// setup loads configuration and installs the default logger.
func setup() (*config.Config, *slog.Logger, error) {
	// Initialize structured logger
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)

	if cfg.LogFile != "" {
		out := io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	}
	logger.Info("Configuration loaded successfully")
	return cfg, logger, nil
}

// withApp connects to the database, applies migrations, wires every component
// and runs fn until it returns or a shutdown signal arrives.
func withApp(parent context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	// Setup context for graceful shutdown
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	a, err := newApp(cfg, database.NewStore(dbpool), logger)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func runMigrations(dbURL string) error {
	m, err := migrate.New(migrationsPath, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
