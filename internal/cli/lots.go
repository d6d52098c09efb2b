package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
	"lotledger/internal/utils"
)

func newLotsCmd(boot Bootstrap) *cobra.Command {
	var (
		filter domain.TradeFilter
		asCSV  bool
	)

	cmd := &cobra.Command{
		Use:   "lots",
		Short: "List lots, newest first (all users when --user is omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				lots, err := rt.Service.ListLots(ctx, filter)
				if err != nil {
					return err
				}
				if asCSV {
					return utils.WriteLotsToCSV(lots, cmd.OutOrStdout())
				}
				printLots(cmd.OutOrStdout(), lots)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&filter.UserID, "user", "u", "", "only this user's lots")
	cmd.Flags().StringVarP(&filter.Instrument, "instrument", "i", "", "only this instrument")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "maximum number of lots (0 = all)")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV instead of a table")
	return cmd
}

func newRealizationsCmd(boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "realizations <lot-id>",
		Short: "Show every sell that consumed part of a lot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lotID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return &ports.ValidationError{Row: -1, Field: "lot id", Reason: "must be an integer"}
			}
			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				rz, err := rt.Service.ListRealizations(ctx, lotID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "LOT\tTRADE\tQTY\tAT")
				for _, r := range rz {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", r.LotID, r.TradeID, r.Quantity, r.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}
}

func printLots(out io.Writer, lots []*domain.Lot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tINSTRUMENT\tQTY\tREALIZED\tSTATUS\tTRADE\tLAST SELL")
	for _, l := range lots {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			l.ID, l.UserID, l.Instrument, l.LotQuantity, l.RealizedQuantity, l.Status, l.TradeID, l.RealizedTradeID)
	}
	w.Flush()
}
