package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lotledger/internal/ports"
)

// NewRootCmd builds the lotledger command tree on top of boot.
func NewRootCmd(boot Bootstrap) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lotledger",
		Short: "Record trades and track which bought lots each sell consumes",
		Long: `lotledger records BUY and SELL trades per user and instrument.

Every BUY opens a lot. Every SELL consumes open lots in FIFO or LIFO order,
atomically, and is rejected when the open lots cannot cover it.

Configuration comes from the environment (and .env), optionally layered over
the YAML file named by LEDGER_CONFIG_FILE.

Examples:
  lotledger trade --user alice --instrument AAPL --quantity 10 --price 187.25 --broker ibkr --type BUY
  lotledger trade --user alice --instrument AAPL --quantity 4 --price 190 --broker ibkr --type SELL --method LIFO
  lotledger import --user alice trades.csv
  lotledger lots --user alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newTradeCmd(boot),
		newImportCmd(boot),
		newTradesCmd(boot),
		newTradeGetCmd(boot),
		newTradeDeleteCmd(boot),
		newLotsCmd(boot),
		newRealizationsCmd(boot),
	)
	return cmd
}

// Execute runs the command line against the configured database.
func Execute() error {
	err := NewRootCmd(DefaultBootstrap).ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", classify(err), err)
	}
	return err
}

// classify names the error class a caller can act on.
func classify(err error) string {
	switch {
	case errors.Is(err, ports.ErrValidation):
		return "invalid request"
	case errors.Is(err, ports.ErrInsufficientInventory):
		return "insufficient inventory"
	case errors.Is(err, ports.ErrNotFound):
		return "not found"
	case errors.Is(err, ports.ErrLockTimeout):
		return "lock timeout"
	case errors.Is(err, ports.ErrStorage):
		return "storage failure"
	case errors.Is(err, ports.ErrConfigurationError):
		return "configuration error"
	default:
		return "error"
	}
}

// withRuntime boots the application for the duration of one command.
func withRuntime(cmd *cobra.Command, boot Bootstrap, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := boot(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
