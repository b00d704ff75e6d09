package cli

import (
	"fmt"
	"strings"

	mongoadapter "github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/spf13/cobra"
)

func NewInboxCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit    int64
		markRead []string
	)
	cmd := &cobra.Command{
		Use:   "inbox <user-id>",
		Short: "List the newest notifications stored for a user, or mark some as read",
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
			inbox := mongoadapter.NewInboxRepository(db, rootOpts.logger())

			if len(markRead) > 0 {
				for _, id := range markRead {
					if err := inbox.MarkRead(cmd.Context(), userID, id); err != nil {
						return err
					}
				}
				return rootOpts.print(cmd.OutOrStdout(),
					map[string]interface{}{"user_id": userID, "marked_read": markRead},
					fmt.Sprintf("marked %d notification(s) read", len(markRead)))
			}

			docs, err := inbox.ListForUser(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, d := range docs {
				state := "new "
				if d.Read {
					state = "read"
				}
				fmt.Fprintf(&b, "%s  %s  %-18s event %d  %s\n",
					d.ReceivedAt.Format("2006-01-02 15:04:05"), state, d.Kind, d.EventID, d.ID)
			}
			return rootOpts.print(cmd.OutOrStdout(), docs, strings.TrimRight(b.String(), "\n"))
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum number of notifications")
	cmd.Flags().StringSliceVar(&markRead, "mark-read", nil, "notification ids to mark as read instead of listing")
	return cmd
}
