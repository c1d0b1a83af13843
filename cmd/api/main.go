package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"colladoc/api/internal/app"
	"colladoc/api/internal/collab"
	"colladoc/api/internal/config"
	"colladoc/api/internal/email"
	"colladoc/api/internal/export"
	"colladoc/api/internal/logging"
	"colladoc/api/internal/search"
	"colladoc/api/internal/session"
	"colladoc/api/internal/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "colladoc-api",
	Short:        "Collaborative document editing server",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return serve(cmd.Context(), cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withDB(func(ctx context.Context, st *store.PostgresStore, logger *zap.Logger) error {
		if err := store.ApplyMigrations(st.DB()); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert every migration",
	RunE: withDB(func(ctx context.Context, st *store.PostgresStore, logger *zap.Logger) error {
		if err := store.RollbackMigrations(st.DB()); err != nil {
			return err
		}
		logger.Info("migrations rolled back")
		return nil
	}),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: withDB(func(ctx context.Context, st *store.PostgresStore, logger *zap.Logger) error {
		version, dirty, err := store.MigrationVersion(st.DB())
		if err != nil {
			return err
		}
		fmt.Printf("version %d", version)
		if dirty {
			fmt.Print(" (dirty)")
		}
		fmt.Println()
		return nil
	}),
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every document to Meilisearch",
	RunE: withDB(func(ctx context.Context, st *store.PostgresStore, logger *zap.Logger) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if strings.TrimSpace(cfg.MeiliURL) == "" {
			return errors.New("MEILI_URL is not set")
		}
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		if !meili.Healthy() {
			return fmt.Errorf("meilisearch at %s is not reachable", cfg.MeiliURL)
		}
		return search.NewService(meili, nil, st, logger).ReindexAll(ctx)
	}),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reindexCmd)
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// withDB opens the database for a one-shot command.
func withDB(fn func(ctx context.Context, st *store.PostgresStore, logger *zap.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(ctx, store.NewPostgresStore(db), logger)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(db); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	checks := map[string]app.Pinger{"database": dataStore}

	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), dataStore, logger)
	go func() {
		if err := searchService.ReindexAll(ctx); err != nil {
			logger.Warn("initial reindex failed", zap.Error(err))
		}
	}()

	var revoker app.TokenRevoker = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for token revocation")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		revoker = redisStore
		checks["redis"] = redisStore
	} else {
		logger.Info("using postgres for token revocation")
	}

	manager := collab.NewManager(dataStore, collab.Options{
		SendQueueSize:   cfg.SendQueueSize,
		Logger:          logger.Named("collab"),
		OnContentChange: searchService,
	})

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("smtp not configured, share notifications disabled")
	}

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Revoker:  revoker,
		Presence: manager,
		Search:   searchService,
		Export:   export.NewService(dataStore, cfg.PandocPath, logger),
		Mailer:   mailer,
		Checks:   checks,
		Logger:   logger,
	})

	transport := collab.NewTransport(manager, service, logger.Named("socket"), collab.TransportOptions{
		MaxMessageBytes: cfg.MaxMessageBytes,
		AllowedOrigin:   cfg.CORSOrigin,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, transport, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("colladoc api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
