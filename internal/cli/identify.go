package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"reconcile/internal/identity/models"
	"reconcile/internal/identity/service"
	"reconcile/internal/identity/store"
)

// NewIdentifyCommand creates the identify command.
func NewIdentifyCommand(rootOpts *RootOptions) *cobra.Command {
	var email, phone string

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Reconcile an email and/or phone number",
		Long: `Reconcile an email and/or phone number into its canonical identity.

Creates or merges contacts exactly as POST /identify does and prints the
resulting component.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.ReconcileRequest{
				Email:       models.NewIdentifier(email),
				PhoneNumber: models.NewIdentifier(phone),
			}
			return withService(cmd.Context(), rootOpts, func(svc *service.Service) error {
				identity, err := svc.Reconcile(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeIdentity(cmd.OutOrStdout(), rootOpts.Format, identity)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "show <contact-id>",
		Short:        "Print the canonical identity containing a contact",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			return withService(cmd.Context(), rootOpts, func(svc *service.Service) error {
				identity, err := svc.Lookup(cmd.Context(), models.ContactID(id))
				if err != nil {
					return err
				}
				return writeIdentity(cmd.OutOrStdout(), rootOpts.Format, identity)
			})
		},
	}
}

func withService(ctx context.Context, opts *RootOptions, fn func(svc *service.Service) error) error {
	backend, closeStore, err := store.Open(ctx, opts.database())
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.New(backend, backend, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return fn(svc)
}
