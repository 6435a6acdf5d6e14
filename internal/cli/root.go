// Package cli is the teamsync-api command line: the HTTP server, a
// standalone reminder worker and schema migrations.
package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "teamsync-api",
		Short:        "Teamsync API server and reminder worker",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Serve the API with the configured backend
  teamsync-api serve

  # Run one reminder pass over every approved user
  teamsync-api remind --once

  # Apply Postgres migrations
  teamsync-api migrate
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => serve.
			return runServe(serveOptions{})
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRemindCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
