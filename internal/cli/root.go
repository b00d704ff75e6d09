package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// loadConfig is swapped in tests.
	loadConfig func() (*config.Config, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{loadConfig: config.Load})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookingctl",
		Short: "Operate the event booking store",
		Long:  "Operator tooling for bookings, waitlists and loyalty: schema migration, seeding, waitlist promotion and token minting.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewEventCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewLoyaltyCommand(opts))
	cmd.AddCommand(NewPromoteCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewInboxCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

func (o *RootOptions) logger() observability.Logger {
	if o.Verbose {
		return observability.NewLogger("debug")
	}
	return observability.NewNopLogger()
}

// openRepo connects to CockroachDB; the caller closes the pool.
func (o *RootOptions) openRepo(ctx context.Context) (*crdb.Repository, *pgxpool.Pool, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "load config")
	}
	if cfg.CRDBDSN == "" {
		return nil, nil, nil, errors.New("CRDB_DSN is not set")
	}
	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "connect to crdb")
	}
	return crdb.NewRepository(pool), pool, cfg, nil
}

// openMongo connects to the configured database; the caller runs the returned close func.
func (o *RootOptions) openMongo(ctx context.Context) (*mongo.Database, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load config")
	}
	if cfg.MongoURI == "" {
		return nil, nil, errors.New("MONGO_URI is not set")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongo")
	}
	return client.Database(cfg.MongoDB), func() { client.Disconnect(context.Background()) }, nil
}

// print writes v as indented JSON, or the text form when the format is text.
func (o *RootOptions) print(w io.Writer, v interface{}, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
