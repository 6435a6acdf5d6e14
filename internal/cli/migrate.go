package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"teamsync/api/internal/config"
	"teamsync/api/internal/docstore"
)

func newMigrateCmd() *cobra.Command {
	cfg := config.Load()
	var databaseURL, dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := docstore.OpenPostgres(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := docstore.ApplyMigrations(ctx, db, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied from %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", cfg.DatabaseURL, "Postgres connection URL")
	cmd.Flags().StringVar(&dir, "dir", cfg.MigrationsDir, "Directory of .sql migrations")
	return cmd
}
