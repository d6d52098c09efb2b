package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

// Repository implements ports.Store and ports.QueryRepository using SQLite.
//
// Every unit of work is opened with BEGIN IMMEDIATE, so it holds the database write lock
// from its first statement until commit or rollback. That lock covers (and is wider than)
// the candidate lots a sell reads. Waiting for it is bounded by the configured lock timeout.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath       string
	Logger       ports.Logger
	LockTimeout  time.Duration // Busy timeout while waiting for another unit's write lock
	MaxOpenConns int
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/lotledger.db" // Default path
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		dbPath, lockTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{
		"path": dbPath, "lockTimeout": lockTimeout.String(), "maxOpenConns": maxOpen,
	})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		trade_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price TEXT NOT NULL,
		trade_type TEXT NOT NULL CHECK (trade_type IN ('BUY', 'SELL')),
		broker TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lots (
		lot_id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		user_id TEXT NOT NULL,
		lot_quantity INTEGER NOT NULL CHECK (lot_quantity > 0),
		realized_quantity INTEGER NOT NULL DEFAULT 0
			CHECK (realized_quantity >= 0 AND realized_quantity <= lot_quantity),
		realized_trade_id TEXT NULL, -- last realizing trade, no foreign key so trade deletion leaves lots intact
		lot_status TEXT NOT NULL CHECK (lot_status IN ('OPEN', 'PARTIALLY_REALIZED', 'FULLY_REALIZED')),
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lot_realizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lot_id INTEGER NOT NULL REFERENCES lots (lot_id),
		trade_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_user_instrument_status ON lots (user_id, instrument, lot_status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades (user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_lot_realizations_lot ON lot_realizations (lot_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- Store Implementation ---

// Begin starts a unit of work holding the database write lock.
func (r *Repository) Begin(ctx context.Context) (ports.Unit, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("failed to begin unit of work", err)
	}
	return &unit{tx: tx, logger: r.logger}, nil
}

// unit is one SQLite transaction.
type unit struct {
	tx     *sql.Tx
	logger ports.Logger
}

func (u *unit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(); err != nil {
		return storageErr("failed to commit unit of work", err)
	}
	return nil
}

func (u *unit) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storageErr("failed to roll back unit of work", err)
	}
	return nil
}

// CreateTrade saves a new trade record.
func (u *unit) CreateTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	INSERT INTO trades (trade_id, user_id, instrument, quantity, price, trade_type, broker, total_amount, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := u.tx.ExecContext(ctx, query,
		t.ID, t.UserID, t.Instrument, t.Quantity, t.Price.String(), string(t.Kind), t.Broker, t.Total.String(), t.CreatedAt.UTC())
	if err != nil {
		return storageErr(fmt.Sprintf("failed to insert trade for instrument %s", t.Instrument), err)
	}
	return nil
}

// CreateLot saves a new lot and sets its ID.
func (u *unit) CreateLot(ctx context.Context, lot *domain.Lot) error {
	const query = `
	INSERT INTO lots (trade_id, instrument, user_id, lot_quantity, realized_quantity, lot_status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := u.tx.ExecContext(ctx, query,
		lot.TradeID, lot.Instrument, lot.UserID, lot.LotQuantity, lot.RealizedQuantity, string(lot.Status), lot.CreatedAt.UTC())
	if err != nil {
		return storageErr(fmt.Sprintf("failed to insert lot for trade %s", lot.TradeID), err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storageErr(fmt.Sprintf("failed to get last insert ID for lot of trade %s", lot.TradeID), err)
	}
	lot.ID = id
	return nil
}

// LoadEligibleLots reads the open lots of (userID, instrument). The unit already holds the
// write lock, so no other unit can change them before this one ends.
func (u *unit) LoadEligibleLots(ctx context.Context, userID, instrument string, policy domain.AllocationPolicy) ([]domain.Lot, error) {
	const query = `
	SELECT lot_id, trade_id, instrument, user_id, lot_quantity, realized_quantity,
	       realized_trade_id, lot_status, created_at
	FROM lots
	WHERE user_id = ? AND instrument = ? AND lot_status != ?
	ORDER BY lot_id`

	rows, err := u.tx.QueryContext(ctx, query, userID, instrument, string(domain.LotFullyRealized))
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to query lots for %s", instrument), err)
	}
	defer rows.Close()

	lots := make([]domain.Lot, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, storageErr("failed to scan lot", err)
		}
		lots = append(lots, *lot)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating lot rows", err)
	}
	domain.SortLots(lots, policy)
	return lots, nil
}

// ApplyLotUpdates writes each update guarded by the realized quantity it was computed from.
func (u *unit) ApplyLotUpdates(ctx context.Context, updates []domain.LotUpdate) error {
	const update = `
	UPDATE lots
	SET realized_quantity = ?, lot_status = ?, realized_trade_id = ?
	WHERE lot_id = ? AND realized_quantity = ?`
	const audit = `
	INSERT INTO lot_realizations (lot_id, trade_id, quantity, created_at)
	VALUES (?, ?, ?, ?)`

	now := time.Now().UTC()
	for _, up := range updates {
		result, err := u.tx.ExecContext(ctx, update,
			up.RealizedQuantity, string(up.Status), up.RealizedTradeID, up.LotID, up.PreviousRealized)
		if err != nil {
			return storageErr(fmt.Sprintf("failed to update lot ID %d", up.LotID), err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return storageErr(fmt.Sprintf("failed to get rows affected for lot ID %d", up.LotID), err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("lot ID %d changed since it was read: %w", up.LotID, ports.ErrStorage)
		}
		if _, err := u.tx.ExecContext(ctx, audit, up.LotID, up.RealizedTradeID, up.Amount, now); err != nil {
			return storageErr(fmt.Sprintf("failed to record realization of lot ID %d", up.LotID), err)
		}
	}
	return nil
}

// --- QueryRepository Implementation ---

// ListTrades retrieves trades matching the filter, newest first.
func (r *Repository) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	query := `
	SELECT trade_id, user_id, instrument, quantity, price, trade_type, broker, total_amount, created_at
	FROM trades`
	where, args := filterClause(filter)
	query += where + ` ORDER BY created_at DESC, trade_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query trades", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, storageErr("failed to scan trade during ListTrades", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("error iterating trade rows", err)
	}
	return trades, nil
}

// FindTradeByID retrieves a trade by its ID.
func (r *Repository) FindTradeByID(ctx context.Context, id string) (*domain.Trade, error) {
	const query = `
	SELECT trade_id, user_id, instrument, quantity, price, trade_type, broker, total_amount, created_at
	FROM trades
	WHERE trade_id = ?`

	t, err := scanTrade(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
		}
		return nil, storageErr(fmt.Sprintf("failed to query trade %s", id), err)
	}
	return t, nil
}

// DeleteTrade removes a trade record.
func (r *Repository) DeleteTrade(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE trade_id = ?`, id)
	if err != nil {
		return storageErr(fmt.Sprintf("failed to delete trade %s", id), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr(fmt.Sprintf("failed to get rows affected for delete trade %s", id), err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade deleted", map[string]interface{}{"tradeID": id})
	return nil
}

// ListLots retrieves lots matching the filter, newest first.
func (r *Repository) ListLots(ctx context.Context, filter domain.TradeFilter) ([]*domain.Lot, error) {
	query := `
	SELECT lot_id, trade_id, instrument, user_id, lot_quantity, realized_quantity,
	       realized_trade_id, lot_status, created_at
	FROM lots`
	where, args := filterClause(filter)
	query += where + ` ORDER BY created_at DESC, lot_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query lots", err)
	}
	defer rows.Close()

	lots := make([]*domain.Lot, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, storageErr("failed to scan lot during ListLots", err)
		}
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("error iterating lot rows", err)
	}
	return lots, nil
}

// ListRealizations retrieves the consumption history of a lot, oldest first.
func (r *Repository) ListRealizations(ctx context.Context, lotID int64) ([]*domain.Realization, error) {
	const query = `
	SELECT lot_id, trade_id, quantity, created_at
	FROM lot_realizations
	WHERE lot_id = ?
	ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, lotID)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to query realizations of lot %d", lotID), err)
	}
	defer rows.Close()

	out := make([]*domain.Realization, 0)
	for rows.Next() {
		rz := &domain.Realization{}
		if err := rows.Scan(&rz.LotID, &rz.TradeID, &rz.Quantity, &rz.CreatedAt); err != nil {
			return nil, storageErr("failed to scan realization", err)
		}
		out = append(out, rz)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("error iterating realization rows", err)
	}
	return out, nil
}

// --- Helpers ---

// filterClause builds the WHERE clause shared by trade and lot listings.
func filterClause(filter domain.TradeFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Instrument != "" {
		conds = append(conds, "instrument = ?")
		args = append(args, filter.Instrument)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// storageErr wraps a driver error as a ledger storage error, flagging lock contention.
func storageErr(msg string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w: %w", msg, ports.ErrLockTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, ports.ErrStorage, err)
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var kind string
	err := s.Scan(&t.ID, &t.UserID, &t.Instrument, &t.Quantity, &t.Price, &kind, &t.Broker, &t.Total, &t.CreatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Kind = domain.TradeKind(kind)
	return t, nil
}

// scanLot scans a row into a domain.Lot struct.
func scanLot(s scanner) (*domain.Lot, error) {
	l := &domain.Lot{}
	var realizedTradeID sql.NullString
	var status string
	err := s.Scan(&l.ID, &l.TradeID, &l.Instrument, &l.UserID, &l.LotQuantity, &l.RealizedQuantity,
		&realizedTradeID, &status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if realizedTradeID.Valid {
		l.RealizedTradeID = realizedTradeID.String
	}
	l.Status = domain.LotStatus(status)
	return l, nil
}
