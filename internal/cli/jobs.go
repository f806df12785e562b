package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/api/dto"
	"github.com/cuongbtq/doc-analyzer/internal/bootstrap"
	"github.com/cuongbtq/doc-analyzer/internal/config"
	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/cuongbtq/doc-analyzer/internal/service"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/spf13/cobra"
)

func newSubmitCommand(opts *options) *cobra.Command {
	var (
		query  string
		upload bool
	)

	cmd := &cobra.Command{
		Use:   "submit <source-reference>",
		Short: "Submit a document for analysis",
		Long: `Create an analysis job and enqueue it for the workers.

The argument is a reference the workers can resolve (a path under the shared
document directory or an s3:// URL). With --upload it is a local file that is
first copied into the configured document store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				// An in-process queue would vanish with this command
				if s.cfg.Queue.Backend != config.QueueBackendRabbitMQ {
					return fmt.Errorf("submit needs the rabbitmq queue backend, config uses %q", s.cfg.Queue.Backend)
				}

				q, err := bootstrap.OpenQueue(s.cfg, s.db, s.logger)
				if err != nil {
					return err
				}
				defer q.Close()

				docs, err := bootstrap.Documents(ctx, &s.cfg.Documents, s.logger)
				if err != nil {
					return fmt.Errorf("failed to initialize document store: %w", err)
				}

				svc := service.New(s.store, q, docs, s.logger)

				var handle domain.Handle
				if upload {
					handle, err = submitFile(ctx, svc, args[0], query)
				} else {
					handle, err = svc.Submit(ctx, service.SubmitRequest{SourceReference: args[0], Query: query})
				}
				if err != nil {
					return err
				}

				return printValue(cmd, opts, dto.SubmitAnalysisResponse{
					Status:     domain.JobStatusProcessing,
					AnalysisID: handle.JobID,
					TaskID:     handle.TaskToken,
					Message:    "Analysis queued",
				})
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "question to answer about the document")
	cmd.Flags().BoolVar(&upload, "upload", false, "copy a local file into the document store first")

	return cmd
}

func submitFile(ctx context.Context, svc *service.Service, path, query string) (domain.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.Handle{}, err
	}

	return svc.SubmitUpload(ctx, filepath.Base(path), f, info.Size(), query)
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <analysis-id>",
		Short: "Show the status and result of one analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				job, err := service.New(s.store, nil, nil, s.logger).Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printValue(cmd, opts, dto.NewAnalysisDTO(job, true))
			})
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		status   string
		pageSize int
		cursor   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pos, err := storage.DecodeJobCursor(cursor)
			if err != nil {
				return err
			}

			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				page, err := service.New(s.store, nil, nil, s.logger).History(ctx, service.HistoryRequest{
					Status:   status,
					PageSize: pageSize,
					Cursor:   pos,
				})
				if err != nil {
					return err
				}

				resp := dto.ListAnalysesResponse{Analyses: make([]dto.AnalysisDTO, len(page.Jobs))}
				for i := range page.Jobs {
					resp.Analyses[i] = dto.NewAnalysisDTO(&page.Jobs[i], false)
				}
				if page.Next != nil {
					resp.NextCursor = storage.EncodeJobCursor(page.Next)
				}
				return printValue(cmd, opts, resp)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list jobs in this status (processing, completed, failed)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "page size, 0 lists everything")
	cmd.Flags().StringVar(&cursor, "cursor", "", "next_cursor from a previous page")

	return cmd
}

func newTaskCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "task <task-id>",
		Short: "Probe the queue-side state of a delivery attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if s.cfg.Queue.Backend != config.QueueBackendRabbitMQ {
					return fmt.Errorf("task probes live inside the api process with the %q queue backend", s.cfg.Queue.Backend)
				}

				status, err := queue.NewSQLResultBackend(s.db.GetDB()).Get(ctx, args[0])
				if err != nil {
					return err
				}

				resp := dto.TaskStatusResponse{TaskID: status.TaskID, State: string(status.State)}
				if len(status.Payload) > 0 {
					var payload domain.TaskResult
					if err := json.Unmarshal(status.Payload, &payload); err == nil {
						resp.Payload = payload
					} else {
						resp.Payload = string(status.Payload)
					}
				}
				if !status.UpdatedAt.IsZero() {
					resp.UpdatedAt = status.UpdatedAt.UTC().Format(time.RFC3339Nano)
				}
				return printValue(cmd, opts, resp)
			})
		},
	}
}
