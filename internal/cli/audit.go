package cli

import (
	"fmt"
	"strings"

	mongoadapter "github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/spf13/cobra"
)

func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "audit <user-id>",
		Short: "Show the audit trail of a user's bookings and waitlist changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0])
			if err != nil {
				return err
			}
			db, closeDB, err := rootOpts.openMongo(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			logs, err := mongoadapter.NewAuditLogger(db, rootOpts.logger()).ListForUser(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, l := range logs {
				fmt.Fprintf(&b, "%s  %-18s event %v\n", l.Timestamp.Format("2006-01-02 15:04:05"), l.Action, l.Data["event_id"])
			}
			return rootOpts.print(cmd.OutOrStdout(), logs, strings.TrimRight(b.String(), "\n"))
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum number of entries")
	return cmd
}
