package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

// Ledger applies trades to the lot inventory inside a unit of work supplied by the caller.
// It never commits or rolls back; the caller decides based on the returned error.
type Ledger struct {
	logger ports.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to timestamp trades and lots.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger.
func New(logger ports.Logger, opts ...Option) (*Ledger, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Ledger")
	}
	l := &Ledger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Validate checks a request before anything is written. row is the batch row index, or -1.
func Validate(req domain.TradeRequest, row int) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return &ports.ValidationError{Row: row, Field: "user", Reason: "is required"}
	case strings.TrimSpace(req.Instrument) == "":
		return &ports.ValidationError{Row: row, Field: "instrument", Reason: "is required"}
	case req.Quantity <= 0:
		return &ports.ValidationError{Row: row, Field: "quantity", Reason: "must be positive"}
	case !req.Price.IsPositive():
		return &ports.ValidationError{Row: row, Field: "price", Reason: "must be positive"}
	case strings.TrimSpace(req.Broker) == "":
		return &ports.ValidationError{Row: row, Field: "broker", Reason: "is required"}
	case !req.Kind.Valid():
		return &ports.ValidationError{Row: row, Field: "trade type", Reason: "must be BUY or SELL"}
	case req.Kind == domain.Sell && !req.Policy.Valid():
		return &ports.ValidationError{Row: row, Field: "method", Reason: "must be FIFO or LIFO for a sell"}
	}
	return nil
}

// ApplyTrade records one trade. A BUY opens a new lot; a SELL consumes open lots in
// policy order and fails with *ports.InsufficientInventoryError when they do not suffice,
// in which case the caller must discard the unit (the tentative trade included).
func (l *Ledger) ApplyTrade(ctx context.Context, tx ports.LedgerTx, req domain.TradeRequest) (*domain.Trade, error) {
	if err := Validate(req, -1); err != nil {
		return nil, err
	}
	trade, err := l.RecordTrade(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	switch trade.Kind {
	case domain.Buy:
		if _, err := l.OpenLot(ctx, tx, trade); err != nil {
			return nil, err
		}
	case domain.Sell:
		if _, err := l.Realize(ctx, tx, trade, req.Policy); err != nil {
			return nil, err
		}
	}
	return trade, nil
}

// RecordTrade creates the trade record for an already validated request.
func (l *Ledger) RecordTrade(ctx context.Context, tx ports.LedgerTx, req domain.TradeRequest) (*domain.Trade, error) {
	trade := domain.NewTrade(req, l.now())
	if err := tx.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to create %s trade for %s: %w", trade.Kind, trade.Instrument, err)
	}
	l.logger.Debug(ctx, "Trade recorded", map[string]interface{}{
		"tradeID": trade.ID, "kind": trade.Kind, "instrument": trade.Instrument, "quantity": trade.Quantity,
	})
	return trade, nil
}

// OpenLot creates the OPEN lot backing a BUY trade.
func (l *Ledger) OpenLot(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade) (*domain.Lot, error) {
	if trade.Kind != domain.Buy {
		return nil, fmt.Errorf("cannot open a lot for %s trade %s", trade.Kind, trade.ID)
	}
	lot := domain.NewLot(trade)
	if err := tx.CreateLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("failed to create lot for trade %s: %w", trade.ID, err)
	}
	l.logger.Debug(ctx, "Lot opened", map[string]interface{}{"lotID": lot.ID, "tradeID": trade.ID, "quantity": lot.LotQuantity})
	return lot, nil
}

// Realize consumes open lots for a recorded SELL trade.
func (l *Ledger) Realize(ctx context.Context, tx ports.LedgerTx, trade *domain.Trade, policy domain.AllocationPolicy) (Allocation, error) {
	if trade.Kind != domain.Sell {
		return Allocation{}, fmt.Errorf("cannot realize lots for %s trade %s", trade.Kind, trade.ID)
	}
	lots, err := tx.LoadEligibleLots(ctx, trade.UserID, trade.Instrument, policy)
	if err != nil {
		return Allocation{}, fmt.Errorf("failed to load lots for %s: %w", trade.Instrument, err)
	}

	alloc, ok := Allocate(lots, trade.Quantity, trade.ID)
	if !ok {
		l.logger.Warn(ctx, "Sell exceeds open inventory", map[string]interface{}{
			"tradeID": trade.ID, "instrument": trade.Instrument, "requested": trade.Quantity, "available": alloc.Available,
		})
		return alloc, &ports.InsufficientInventoryError{
			Instrument: trade.Instrument,
			Requested:  trade.Quantity,
			Available:  alloc.Available,
		}
	}

	if err := tx.ApplyLotUpdates(ctx, alloc.Updates); err != nil {
		return Allocation{}, fmt.Errorf("failed to update lots for sell %s: %w", trade.ID, err)
	}
	l.logger.Debug(ctx, "Lots realized", map[string]interface{}{
		"tradeID": trade.ID, "policy": policy, "lotsTouched": len(alloc.Updates),
	})
	return alloc, nil
}
