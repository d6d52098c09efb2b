package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"lotledger/internal/domain"
	"lotledger/internal/ledger"
	"lotledger/internal/ports"
	"lotledger/internal/trace"
)

// ApplyBatch applies every row in one unit of work and returns the number of trades
// recorded. Either all rows take effect or none do.
//
// Rows are processed in three phases: every trade is recorded in row order, then
// every BUY row opens its lot, then every SELL row is realized in row order. A SELL
// may therefore consume a lot opened by a BUY that appears later in the same batch.
func (s *LedgerService) ApplyBatch(ctx context.Context, rows []domain.TradeRequest) (int, error) {
	ctx, span := trace.StartSpan(ctx, "ledger.ApplyBatch", attribute.Int("rows", len(rows)))

	if err := validateBatch(rows); err != nil {
		s.logOutcome(ctx, "ApplyBatch", err)
		trace.End(span, err)
		return 0, err
	}

	err := s.withUnit(ctx, "ApplyBatch", func(ctx context.Context, tx ports.LedgerTx) error {
		trades := make([]*domain.Trade, len(rows))
		for i, row := range rows {
			trade, err := s.ledger.RecordTrade(ctx, tx, row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			trades[i] = trade
		}

		for i, trade := range trades {
			if trade.Kind != domain.Buy {
				continue
			}
			if _, err := s.ledger.OpenLot(ctx, tx, trade); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}

		for i, trade := range trades {
			if trade.Kind != domain.Sell {
				continue
			}
			if _, err := s.ledger.Realize(ctx, tx, trade, rows[i].Policy); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return nil
	})
	trace.End(span, err)
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "Batch applied", map[string]interface{}{"userID": rows[0].UserID, "trades": len(rows)})
	return len(rows), nil
}

// validateBatch checks every row before anything is written.
func validateBatch(rows []domain.TradeRequest) error {
	if len(rows) == 0 {
		return &ports.ValidationError{Row: -1, Field: "batch", Reason: "is empty"}
	}
	user := rows[0].UserID
	for i, row := range rows {
		if err := ledger.Validate(row, i); err != nil {
			return err
		}
		if row.UserID != user {
			return &ports.ValidationError{Row: i, Field: "user", Reason: "differs from the rest of the batch"}
		}
	}
	return nil
}
