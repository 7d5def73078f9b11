package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"reconcile/internal/identity/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Create or upgrade the contacts schema",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, closeStore, err := store.Open(cmd.Context(), rootOpts.database())
			if err != nil {
				return err
			}
			defer closeStore()
			fmt.Fprintf(cmd.OutOrStdout(), "contacts schema is up to date (%s)\n", rootOpts.Dialect)
			return nil
		},
	}
}
