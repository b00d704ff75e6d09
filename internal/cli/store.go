package cli

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the booking tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, _, err := rootOpts.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := crdb.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]bool{"migrated": true}, "schema up to date")
		},
	}
}

type eventFlags struct {
	id       int64
	capacity int
	price    string
	startsAt string
	duration time.Duration
	status   string
}

func (f eventFlags) event() (domain.Event, error) {
	if f.id <= 0 {
		return domain.Event{}, errors.New("--id is required")
	}
	if f.capacity < 0 {
		return domain.Event{}, errors.New("--capacity must not be negative")
	}
	price, err := decimal.NewFromString(f.price)
	if err != nil || price.IsNegative() {
		return domain.Event{}, errors.Newf("invalid --price %q", f.price)
	}
	starts, err := time.Parse(time.RFC3339, f.startsAt)
	if err != nil {
		return domain.Event{}, errors.Wrap(err, "invalid --starts-at")
	}
	status := domain.EventStatus(f.status)
	switch status {
	case domain.EventStatusDraft, domain.EventStatusPublished, domain.EventStatusCancelled, domain.EventStatusPostponed:
	default:
		return domain.Event{}, errors.Newf("invalid --status %q", f.status)
	}
	return domain.Event{
		ID:       f.id,
		Capacity: f.capacity,
		Price:    price,
		StartsAt: starts.UTC(),
		EndsAt:   starts.UTC().Add(f.duration),
		Status:   status,
	}, nil
}

func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage event rows",
	}

	var f eventFlags
	put := &cobra.Command{
		Use:   "put",
		Short: "Create or replace an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := f.event()
			if err != nil {
				return err
			}
			repo, pool, _, err := rootOpts.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repo.UpsertEvent(cmd.Context(), event); err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]interface{}{"event_id": event.ID},
				"event "+strconv.FormatInt(event.ID, 10)+" saved")
		},
	}
	put.Flags().Int64Var(&f.id, "id", 0, "event id")
	put.Flags().IntVar(&f.capacity, "capacity", 0, "number of seats")
	put.Flags().StringVar(&f.price, "price", "0", "ticket price")
	put.Flags().StringVar(&f.startsAt, "starts-at", "", "start time (RFC3339)")
	put.Flags().DurationVar(&f.duration, "duration", 2*time.Hour, "event length")
	put.Flags().StringVar(&f.status, "status", string(domain.EventStatusPublished), "DRAFT|PUBLISHED|CANCELLED|POSTPONED")
	put.MarkFlagRequired("id")
	put.MarkFlagRequired("starts-at")

	cmd.AddCommand(put)
	return cmd
}

func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage loyalty accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <user-id>",
		Short: "Create a loyalty account with zero points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			repo, pool, _, err := rootOpts.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repo.EnsureUser(cmd.Context(), id); err != nil {
				return err
			}
			return rootOpts.print(cmd.OutOrStdout(), map[string]int64{"user_id": id}, "user "+args[0]+" ready")
		},
	})
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf("invalid id %q", s)
	}
	return id, nil
}
