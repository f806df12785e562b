package cli

import (
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(apply func(s *session, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			// goose reports progress at info level
			s, err := openSession(opts, "info")
			if err != nil {
				return err
			}
			defer s.Close()
			return apply(s, cmd)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(s *session, cmd *cobra.Command) error {
				return s.db.Migrate(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(s *session, cmd *cobra.Command) error {
				return s.db.MigrateDown(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			Args:  cobra.NoArgs,
			RunE: run(func(s *session, cmd *cobra.Command) error {
				return s.db.MigrationStatus(cmd.Context())
			}),
		},
	)

	return cmd
}
