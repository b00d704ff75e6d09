package cli

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/spf13/cobra"
)

func NewLoyaltyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "loyalty <points>",
		Short: "Show the tier and discount for a point balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || points < 0 {
				return errors.Newf("invalid points %q", args[0])
			}
			l := domain.LoyaltyFor(points)
			return rootOpts.print(cmd.OutOrStdout(), map[string]interface{}{
				"points":   l.Points,
				"tier":     l.Tier,
				"discount": l.Discount.String(),
			}, fmt.Sprintf("%d points: %s tier, %s%% discount", l.Points, l.Tier, l.Discount.Shift(2).String()))
		},
	}
}
