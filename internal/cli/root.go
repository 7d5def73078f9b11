// Package cli implements contactctl, an operator tool that runs reconcile calls and
// lookups straight against a contact store.
package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"reconcile/internal/platform/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Dialect     string
	Storage     string
	DatabaseURL string
	Format      string // "json" | "text"
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the contactctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "contactctl",
		Short: "Inspect and reconcile contacts",
		Long:  "Runs identity reconciliation and component lookups directly against the contact store.",
		// main reports the error
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			opts.Dialect = strings.ToLower(opts.Dialect)
			return opts.database().Validate()
		},
	}

	// Store flags default to the server's environment so both see the same contacts.
	cmd.PersistentFlags().StringVar(&opts.Dialect, "dialect", envOr("DB_DIALECT", "sqlite"), "contact store (sqlite|postgres|memory)")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", envOr("DB_STORAGE", "./contacts.db"), "SQLite database file")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewIdentifyCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}

func (o *RootOptions) database() config.DatabaseConfig {
	return config.DatabaseConfig{
		Dialect: o.Dialect,
		Storage: o.Storage,
		URL:     o.DatabaseURL,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
