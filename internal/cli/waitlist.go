package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/spf13/cobra"
)

func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	var eventID int64
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote waitlisted users of an event into free seats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventID <= 0 {
				return errors.New("--event is required")
			}
			repo, pool, cfg, err := rootOpts.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := booking.NewService(repo, rootOpts.logger(), booking.WithCancellationWindow(cfg.CancellationWindow))
			n, err := svc.Reconcile(cmd.Context(), eventID)
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]interface{}{"event_id": eventID, "promoted": n},
				fmt.Sprintf("event %d: promoted %d", eventID, n))
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id")
	cmd.MarkFlagRequired("event")
	return cmd
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one waitlist sweep over every event with free seats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, pool, cfg, err := rootOpts.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := rootOpts.logger()
			svc := booking.NewService(repo, logger, booking.WithCancellationWindow(cfg.CancellationWindow))
			n, err := booking.NewSweeper(svc, repo, logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]int{"promoted": n}, fmt.Sprintf("promoted %d", n))
		},
	}
}
