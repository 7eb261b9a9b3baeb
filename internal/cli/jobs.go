package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/persistence"
)

var printDigest bool

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.postgres.Enabled() {
				return fmt.Errorf("POSTGRES_DSN is required to migrate")
			}
			return persistence.RunMigrations(cmd.Context(), a.postgres.PoolHandle(), a.cfg.Postgres.MigrationsDir, a.logger)
		},
	}
}

func newCloseStaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close-stale",
		Short: "Resolve tickets without recent activity once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.wire(ctx); err != nil {
				return err
			}

			closed, err := a.tickets.CloseStale(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("stale sweep finished", zap.Int("closed", closed))
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d stale tickets\n", closed)
			return nil
		},
	}
}

func newDailyStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daily-stats",
		Short: "Post the daily digest to the ticket channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.wire(ctx); err != nil {
				return err
			}

			if printDigest {
				text, err := a.stats.DigestText(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			return a.stats.SendDailyDigest(ctx)
		},
	}
	cmd.Flags().BoolVar(&printDigest, "print", false, "print the digest instead of posting it")
	return cmd
}
