// Package bootstrap turns a loaded config into the clients every binary shares.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/config"
	"github.com/cuongbtq/doc-analyzer/internal/documents"
	"github.com/cuongbtq/doc-analyzer/internal/pipeline"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/cuongbtq/doc-analyzer/internal/worker"
	"github.com/cuongbtq/doc-analyzer/shared/database"
	"github.com/cuongbtq/doc-analyzer/shared/logger"
	"github.com/cuongbtq/doc-analyzer/shared/rabbitmq"
)

// Logger initializes and configures the application logger
func Logger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// Database opens the lifecycle store connection
func Database(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// RabbitMQ connects to the broker and declares the topology
func RabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// Queue is the configured job queue together with its result backend
type Queue struct {
	queue.Queue
	Results queue.ResultBackend
	close   func() error
}

// Close releases the broker connection or stops the in-process queue
func (q *Queue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

// OpenQueue builds the queue backend named in the config. RabbitMQ attempts are
// tracked in the database so the API and the workers share one view of them.
func OpenQueue(cfg *config.Config, db *database.Client, logger *slog.Logger) (*Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		results := queue.NewMemoryResultBackend()
		mq := queue.NewMemoryQueue(cfg.Queue.MemoryCapacity, results, logger)
		return &Queue{Queue: mq, Results: results, close: mq.Close}, nil

	case config.QueueBackendRabbitMQ, "":
		client, err := RabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		results := queue.NewSQLResultBackend(db.GetDB())
		return &Queue{
			Queue:   queue.NewAMQPQueue(client, results, logger),
			Results: results,
			close:   client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported queue backend: %q", cfg.Queue.Backend)
	}
}

// Documents builds the document store
func Documents(ctx context.Context, cfg *config.DocumentsConfig, logger *slog.Logger) (documents.Store, error) {
	return documents.New(ctx, documents.Config{
		Backend:  cfg.Backend,
		LocalDir: cfg.LocalDir,
		S3: documents.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		},
	}, logger)
}

// Worker wires the extraction and analysis collaborators into a worker pool
func Worker(ctx context.Context, cfg *config.Config, store *storage.Storage, q queue.Queue, docs documents.Store, logger *slog.Logger) (*worker.Worker, error) {
	extractor := pipeline.NewTextExtractor(docs, pipeline.ExecRunner{Logger: logger}, pipeline.ExtractConfig{
		Pdftotext: cfg.Extraction.Pdftotext,
		MaxChars:  cfg.Extraction.MaxChars,
		Timeout:   cfg.Extraction.Timeout,
	}, logger)

	analyzer, err := pipeline.NewAnalyzer(ctx, pipeline.AnalyzerConfig{
		Provider:          cfg.Analyzer.Provider,
		Model:             cfg.Analyzer.Model,
		BaseURL:           cfg.Analyzer.BaseURL,
		APIKey:            cfg.Analyzer.APIKey,
		Temperature:       cfg.Analyzer.Temperature,
		Timeout:           cfg.Analyzer.Timeout,
		RequestsPerMinute: cfg.Analyzer.RequestsPerMinute,
		Burst:             cfg.Analyzer.Burst,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	return worker.NewWorker(&worker.Config{
		Logger:      logger,
		Store:       store,
		Queue:       q,
		Extractor:   extractor,
		Analyzer:    analyzer,
		Concurrency: cfg.Worker.Concurrency,
	})
}

// Workers builds the worker pool and the sweeper for q's result backend.
// Neither is started.
func Workers(ctx context.Context, cfg *config.Config, store *storage.Storage, q *Queue, docs documents.Store, logger *slog.Logger) (*worker.Worker, *worker.Sweeper, error) {
	w, err := Worker(ctx, cfg, store, q, docs, logger)
	if err != nil {
		return nil, nil, err
	}

	sweeper, err := worker.NewSweeper(q.Results, cfg.Worker.SweepSchedule, cfg.Worker.ResultRetention, logger)
	if err != nil {
		return nil, nil, err
	}

	return w, sweeper, nil
}
