package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/doc-analyzer/internal/api/handler"
	"github.com/cuongbtq/doc-analyzer/internal/api/router"
	"github.com/cuongbtq/doc-analyzer/internal/bootstrap"
	"github.com/cuongbtq/doc-analyzer/internal/config"
	"github.com/cuongbtq/doc-analyzer/internal/service"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/cuongbtq/doc-analyzer/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.Bool("embedded_workers", cfg.Worker.Embedded),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.Database(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	jobQueue, err := bootstrap.OpenQueue(cfg, dbClient, logger)
	if err != nil {
		return err
	}
	defer jobQueue.Close()

	docs, err := bootstrap.Documents(ctx, &cfg.Documents, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize document store: %w", err)
	}

	store := storage.NewStorage(dbClient.GetDB(), logger)
	svc := service.New(store, jobQueue, docs, logger)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Service:        svc,
		Health:         dbClient,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      withCORS(cfg.Server.CORSOrigins, engine),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Embedded workers are fully built before the server starts listening
	var (
		w       *worker.Worker
		sweeper *worker.Sweeper
	)
	if cfg.Worker.Embedded {
		w, sweeper, err = bootstrap.Workers(ctx, cfg, store, jobQueue, docs, logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if w != nil {
		sweeper.Start()

		g.Go(func() error {
			return w.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("API service shutdown complete")
	return nil
}

// withCORS allows the configured browser origins; no origins means no CORS headers at all
func withCORS(origins []string, h http.Handler) http.Handler {
	if len(origins) == 0 {
		return h
	}

	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           600,
	}).Handler(h)
}
