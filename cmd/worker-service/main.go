package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/bootstrap"
	"github.com/cuongbtq/doc-analyzer/internal/config"
	"github.com/cuongbtq/doc-analyzer/internal/metrics"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9100", "Address for the Prometheus endpoint, empty to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.Database(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	logger.Info("Database connection established")

	jobQueue, err := bootstrap.OpenQueue(cfg, dbClient, logger)
	if err != nil {
		return err
	}
	defer jobQueue.Close()

	logger.Info("RabbitMQ connection established")

	docs, err := bootstrap.Documents(ctx, &cfg.Documents, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize document store: %w", err)
	}

	store := storage.NewStorage(dbClient.GetDB(), logger)

	workerInstance, sweeper, err := bootstrap.Workers(ctx, cfg, store, jobQueue, docs, logger)
	if err != nil {
		return err
	}
	sweeper.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Start(gctx)
	})

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Worker service started successfully",
		slog.String("worker_id", workerInstance.ID()),
	)

	<-gctx.Done()
	logger.Info("Shutting down worker service...")

	// Give in-flight jobs time to finish
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	sweeper.Stop(shutdownCtx)

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Worker error", slog.Any("error", err))
			return err
		}
		logger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	logger.Info("Worker service shutdown complete")
	return nil
}
