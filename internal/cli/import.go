package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
	"lotledger/internal/utils"
)

func newImportCmd(boot Bootstrap) *cobra.Command {
	var (
		user   string
		method string
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Apply a CSV of trades for one user, all or nothing",
		Long: `Import applies every row of a CSV file in a single unit of work.

The header must name the columns instrument, quantity, price, broker and
trade_type; an optional method column (FIFO or LIFO) applies to sells.
If any row is invalid, or any sell cannot be covered, nothing is recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, boot, func(ctx context.Context, rt *Runtime) error {
				policy := rt.Config.DefaultPolicy
				if method != "" {
					p, err := domain.ParseAllocationPolicy(method)
					if err != nil {
						return &ports.ValidationError{Row: -1, Field: "method", Reason: "must be FIFO or LIFO"}
					}
					policy = p
				}

				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()

				rows, err := utils.ReadTradeRows(f, user, policy)
				if err != nil {
					return err
				}
				n, err := rt.Service.ApplyBatch(ctx, rows)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d trades for %s\n", n, user)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "owner of every imported trade (required)")
	cmd.Flags().StringVarP(&method, "method", "m", "", "FIFO or LIFO for sells without a method column")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
