package ports

import (
	"context"

	"lotledger/internal/domain"
)

// LedgerTx is the set of storage operations available inside a unit of work.
// Ledger components receive it explicitly and never commit or roll back themselves.
type LedgerTx interface {
	// CreateTrade inserts a trade record.
	CreateTrade(ctx context.Context, trade *domain.Trade) error
	// CreateLot inserts a lot and sets its ID.
	CreateLot(ctx context.Context, lot *domain.Lot) error
	// LoadEligibleLots performs a locked read of every OPEN or PARTIALLY_REALIZED lot of
	// (userID, instrument), sorted for policy. The locks are held until the unit ends.
	LoadEligibleLots(ctx context.Context, userID, instrument string, policy domain.AllocationPolicy) ([]domain.Lot, error)
	// ApplyLotUpdates writes the realized quantity, status and realizing trade of each lot
	// and records one realization row per update.
	ApplyLotUpdates(ctx context.Context, updates []domain.LotUpdate) error
}

// Unit is one atomic unit of work. Only the transaction coordinator ends it.
type Unit interface {
	LedgerTx
	// Commit makes every write of the unit durable.
	Commit(ctx context.Context) error
	// Rollback discards every write of the unit. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// Store opens units of work against the ledger database.
type Store interface {
	// Begin starts a new unit of work.
	Begin(ctx context.Context) (Unit, error)
	// Close releases the underlying connections.
	Close() error
}

// QueryRepository serves the read-side and housekeeping operations around the ledger.
type QueryRepository interface {
	// ListTrades returns trades matching filter, newest first.
	ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error)
	// FindTradeByID returns the trade or an error wrapping ErrNotFound.
	FindTradeByID(ctx context.Context, id string) (*domain.Trade, error)
	// DeleteTrade removes a trade record. Lots opened or realized by it are left untouched.
	DeleteTrade(ctx context.Context, id string) error
	// ListLots returns lots matching filter, newest first.
	ListLots(ctx context.Context, filter domain.TradeFilter) ([]*domain.Lot, error)
	// ListRealizations returns every consumption recorded against a lot, oldest first.
	ListRealizations(ctx context.Context, lotID int64) ([]*domain.Realization, error)
}
