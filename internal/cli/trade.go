package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

func newTradeCmd(boot Bootstrap) *cobra.Command {
	var (
		user       string
		instrument string
		quantity   int64
		price      string
		broker     string
		kind       string
		method     string
	)

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Record a single BUY or SELL trade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(price)
			if err != nil {
				return &ports.ValidationError{Row: -1, Field: "price", Reason: "must be a decimal number"}
			}
			k, err := domain.ParseTradeKind(kind)
			if err != nil {
				return &ports.ValidationError{Row: -1, Field: "trade type", Reason: "must be BUY or SELL"}
			}
			req := domain.TradeRequest{
				UserID:     user,
				Instrument: instrument,
				Quantity:   quantity,
				Price:      p,
				Broker:     broker,
				Kind:       k,
			}

			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				if k == domain.Sell {
					req.Policy = rt.Config.DefaultPolicy
					if method != "" {
						policy, err := domain.ParseAllocationPolicy(method)
						if err != nil {
							return &ports.ValidationError{Row: -1, Field: "method", Reason: "must be FIFO or LIFO for a sell"}
						}
						req.Policy = policy
					}
				}
				trade, err := rt.Service.ApplyTrade(ctx, req)
				if err != nil {
					return err
				}
				printTrades(cmd.OutOrStdout(), []*domain.Trade{trade})
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owner of the trade (required)")
	cmd.Flags().StringVarP(&instrument, "instrument", "i", "", "instrument name (required)")
	cmd.Flags().Int64VarP(&quantity, "quantity", "q", 0, "whole units traded (required)")
	cmd.Flags().StringVarP(&price, "price", "p", "", "price per unit (required)")
	cmd.Flags().StringVarP(&broker, "broker", "b", "", "broker the trade went through (required)")
	cmd.Flags().StringVarP(&kind, "type", "t", "", "BUY or SELL (required)")
	cmd.Flags().StringVarP(&method, "method", "m", "", "FIFO or LIFO for sells (default from DEFAULT_POLICY)")
	for _, name := range []string{"user", "instrument", "quantity", "price", "broker", "type"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newTradesCmd(boot Bootstrap) *cobra.Command {
	var filter domain.TradeFilter

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List trades, newest first (all users when --user is omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				trades, err := rt.Service.ListTrades(ctx, filter)
				if err != nil {
					return err
				}
				printTrades(cmd.OutOrStdout(), trades)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&filter.UserID, "user", "u", "", "only this user's trades")
	cmd.Flags().StringVarP(&filter.Instrument, "instrument", "i", "", "only this instrument")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "maximum number of trades (0 = all)")
	return cmd
}

func newTradeGetCmd(boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "trade-get <trade-id>",
		Short: "Show one trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				trade, err := rt.Service.GetTrade(ctx, args[0])
				if err != nil {
					return err
				}
				printTrades(cmd.OutOrStdout(), []*domain.Trade{trade})
				return nil
			})
		},
	}
}

func newTradeDeleteCmd(boot Bootstrap) *cobra.Command {
	return &cobra.Command{
		Use:   "trade-delete <trade-id>",
		Short: "Delete a trade record (its lots are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				if err := rt.Service.DeleteTrade(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func printTrades(out io.Writer, trades []*domain.Trade) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tINSTRUMENT\tTYPE\tQTY\tPRICE\tTOTAL\tBROKER\tCREATED")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.UserID, t.Instrument, t.Kind, t.Quantity,
			t.Price.String(), t.Total.String(), t.Broker, t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}
