// Package cli implements docctl, the operator command line for the analysis service.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/doc-analyzer/internal/bootstrap"
	"github.com/cuongbtq/doc-analyzer/internal/config"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/cuongbtq/doc-analyzer/shared/database"
	"github.com/cuongbtq/doc-analyzer/shared/logger"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	output     string
	debug      bool
}

// NewRootCommand builds a fresh command tree, so tests can run it in isolation
func NewRootCommand() *cobra.Command {
	opts := &options{}

	defaultConfigPath := os.Getenv("DOCCTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}

	root := &cobra.Command{
		Use:   "docctl",
		Short: "Operate the document analysis service",
		Long: `docctl talks to the analysis database and job queue directly.

It applies migrations, submits documents and inspects jobs without going
through the HTTP API. It reads the same YAML configuration as the services.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to configuration file")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "output format (json, yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log at debug level to stderr")

	root.AddCommand(
		newMigrateCommand(opts),
		newSubmitCommand(opts),
		newStatusCommand(opts),
		newHistoryCommand(opts),
		newTaskCommand(opts),
	)

	return root
}

// session holds the clients one command invocation needs
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *database.Client
	store  *storage.Storage
}

// openSession loads the config and connects to the database. level is the
// log level used unless --debug is set.
func openSession(opts *options, level string) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.debug {
		level = "debug"
	}
	appLogger, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return nil, err
	}

	db, err := bootstrap.Database(&cfg.Database, appLogger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &session{
		cfg:    cfg,
		logger: appLogger.Logger,
		db:     db,
		store:  storage.NewStorage(db.GetDB(), appLogger.Logger),
	}, nil
}

func (s *session) Close() {
	_ = s.db.Close()
}

// withSession opens a session, runs fn and closes it again
func withSession(cmd *cobra.Command, opts *options, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(opts, "warn")
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(cmd.Context(), s)
}
