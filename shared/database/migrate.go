package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/cuongbtq/doc-analyzer/migrations"
)

// goose keeps its dialect and base FS in package globals
var gooseMu sync.Mutex

// gooseLogger routes goose output through slog
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (c *Client) prepareGoose() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{logger: c.logger.With(slog.String("component", "migrator"))})

	dialect := "postgres"
	if c.config.IsSQLite() {
		dialect = "sqlite3"
	}

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// Migrate runs all pending migrations
func (c *Client) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := c.prepareGoose(); err != nil {
		return err
	}

	c.logger.Info("Running database migrations")
	if err := goose.UpContext(ctx, c.db.DB, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, c.db.DB)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	c.logger.Info("Migrations completed successfully", slog.Int64("version", version))
	return nil
}

// MigrateDown rolls back the most recent migration
func (c *Client) MigrateDown(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := c.prepareGoose(); err != nil {
		return err
	}

	if err := goose.DownContext(ctx, c.db.DB, "."); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationStatus logs the applied state of every migration
func (c *Client) MigrationStatus(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := c.prepareGoose(); err != nil {
		return err
	}

	if err := goose.StatusContext(ctx, c.db.DB, "."); err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	return nil
}
