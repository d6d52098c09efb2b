package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"lotledger/internal/domain"
	"lotledger/internal/ledger"
	"lotledger/internal/ports"
	"lotledger/internal/trace"
)

// LedgerService coordinates units of work around the ledger. It is the only place
// a unit is committed or rolled back.
type LedgerService struct {
	logger  ports.Logger
	store   ports.Store
	queries ports.QueryRepository
	ledger  *ledger.Ledger
}

// NewLedgerService creates a new application service instance.
func NewLedgerService(
	logger ports.Logger,
	store ports.Store,
	queries ports.QueryRepository,
	l *ledger.Ledger,
) (*LedgerService, error) {
	if logger == nil || store == nil || queries == nil || l == nil {
		return nil, fmt.Errorf("missing required dependencies for LedgerService")
	}
	return &LedgerService{
		logger:  logger,
		store:   store,
		queries: queries,
		ledger:  l,
	}, nil
}

// withUnit runs fn inside a fresh unit of work. A nil result commits; any error or
// panic rolls the unit back so none of its writes survive.
func (s *LedgerService) withUnit(ctx context.Context, operation string, fn func(ctx context.Context, tx ports.LedgerTx) error) (err error) {
	unit, err := s.store.Begin(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to begin unit of work", map[string]interface{}{"operation": operation})
		return err
	}
	s.logger.Debug(ctx, "Unit of work started", map[string]interface{}{"operation": operation})

	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			s.rollback(ctx, unit, operation)
			panic(p)
		}
		s.rollback(ctx, unit, operation)
	}()

	if err = fn(ctx, unit); err != nil {
		s.logOutcome(ctx, operation, err)
		return err
	}

	if err = unit.Commit(ctx); err != nil {
		if !errors.Is(err, ports.ErrStorage) {
			err = fmt.Errorf("%w: commit: %w", ports.ErrStorage, err)
		}
		s.logger.Error(ctx, err, "Failed to commit unit of work", map[string]interface{}{"operation": operation})
		return err
	}
	committed = true
	s.logger.Debug(ctx, "Unit of work committed", map[string]interface{}{"operation": operation})
	return nil
}

func (s *LedgerService) rollback(ctx context.Context, unit ports.Unit, operation string) {
	// The caller's context may already be cancelled; the rollback must still run.
	if err := unit.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error(ctx, err, "Failed to roll back unit of work", map[string]interface{}{"operation": operation})
		return
	}
	s.logger.Debug(ctx, "Unit of work rolled back", map[string]interface{}{"operation": operation})
}

// logOutcome logs business rejections at Warn and everything else at Error.
func (s *LedgerService) logOutcome(ctx context.Context, operation string, err error) {
	fields := map[string]interface{}{"operation": operation, "reason": err.Error()}
	switch {
	case errors.Is(err, ports.ErrValidation), errors.Is(err, ports.ErrInsufficientInventory):
		s.logger.Warn(ctx, "Unit of work rejected", fields)
	default:
		s.logger.Error(ctx, err, "Unit of work failed", map[string]interface{}{"operation": operation})
	}
}

// ApplyTrade validates and records a single trade in its own unit of work.
func (s *LedgerService) ApplyTrade(ctx context.Context, req domain.TradeRequest) (*domain.Trade, error) {
	ctx, span := trace.StartSpan(ctx, "ledger.ApplyTrade",
		attribute.String("instrument", req.Instrument),
		attribute.String("kind", string(req.Kind)),
		attribute.Int64("quantity", req.Quantity),
	)

	// Validation failures never open a unit.
	if err := ledger.Validate(req, -1); err != nil {
		s.logOutcome(ctx, "ApplyTrade", err)
		trace.End(span, err)
		return nil, err
	}

	var trade *domain.Trade
	err := s.withUnit(ctx, "ApplyTrade", func(ctx context.Context, tx ports.LedgerTx) error {
		var err error
		trade, err = s.ledger.ApplyTrade(ctx, tx, req)
		return err
	})
	trace.End(span, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Trade applied", map[string]interface{}{
		"tradeID":    trade.ID,
		"userID":     trade.UserID,
		"instrument": trade.Instrument,
		"kind":       trade.Kind,
		"quantity":   trade.Quantity,
		"total":      trade.Total.String(),
	})
	return trade, nil
}

// ListTrades returns trades newest first. An empty UserID lists every user's trades.
func (s *LedgerService) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	return s.queries.ListTrades(ctx, filter)
}

func (s *LedgerService) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return s.queries.FindTradeByID(ctx, id)
}

// DeleteTrade removes a trade record. Lots it opened or realized are not touched.
func (s *LedgerService) DeleteTrade(ctx context.Context, id string) error {
	if err := s.queries.DeleteTrade(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "Trade deleted", map[string]interface{}{"tradeID": id})
	return nil
}

func (s *LedgerService) ListLots(ctx context.Context, filter domain.TradeFilter) ([]*domain.Lot, error) {
	return s.queries.ListLots(ctx, filter)
}

func (s *LedgerService) ListRealizations(ctx context.Context, lotID int64) ([]*domain.Realization, error) {
	return s.queries.ListRealizations(ctx, lotID)
}
