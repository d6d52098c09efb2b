package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

const (
	pgLockNotAvailable = "55P03" // lock_timeout expired
	pgDeadlockDetected = "40P01"
	pgQueryCanceled    = "57014"
)

// Repository implements ports.Store and ports.QueryRepository on PostgreSQL.
//
// Sells lock exactly the candidate lots they read with SELECT ... FOR UPDATE, always in
// ascending lot_id order so that concurrent FIFO and LIFO sells acquire locks in the same
// order. Buys only insert rows and take no row locks.
type Repository struct {
	pool        *pgxpool.Pool
	logger      ports.Logger
	lockTimeout time.Duration
}

// Config holds configuration for the PostgreSQL repository.
type Config struct {
	DatabaseURL string
	Logger      ports.Logger
	LockTimeout time.Duration
	MaxConns    int32
}

// NewRepository connects to PostgreSQL and makes sure the schema exists.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for PostgreSQL repository")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required for PostgreSQL repository: %w", ports.ErrConfigurationError)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		err = fmt.Errorf("failed to ping PostgreSQL: %w", err)
		cfg.Logger.Error(ctx, err, "PostgreSQL repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "PostgreSQL connection pool established", map[string]interface{}{
		"maxConns": poolCfg.MaxConns, "lockTimeout": lockTimeout.String(),
	})

	repo := &Repository{pool: pool, logger: cfg.Logger, lockTimeout: lockTimeout}
	if err := repo.initializeSchema(ctx); err != nil {
		pool.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "PostgreSQL repository initialization failed")
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		trade_id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		price NUMERIC NOT NULL CHECK (price > 0),
		trade_type TEXT NOT NULL CHECK (trade_type IN ('BUY', 'SELL')),
		broker TEXT NOT NULL,
		total_amount NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lots (
		lot_id BIGSERIAL PRIMARY KEY,
		trade_id UUID NOT NULL,
		instrument TEXT NOT NULL,
		user_id TEXT NOT NULL,
		lot_quantity BIGINT NOT NULL CHECK (lot_quantity > 0),
		realized_quantity BIGINT NOT NULL DEFAULT 0
			CHECK (realized_quantity >= 0 AND realized_quantity <= lot_quantity),
		realized_trade_id UUID NULL,
		lot_status TEXT NOT NULL CHECK (lot_status IN ('OPEN', 'PARTIALLY_REALIZED', 'FULLY_REALIZED')),
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lot_realizations (
		id BIGSERIAL PRIMARY KEY,
		lot_id BIGINT NOT NULL REFERENCES lots (lot_id),
		trade_id UUID NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_lots_user_instrument_status ON lots (user_id, instrument, lot_status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades (user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_lot_realizations_lot ON lot_realizations (lot_id);
	`
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.logger.Info(context.Background(), "Closing PostgreSQL connection pool")
	r.pool.Close()
	return nil
}

// Begin starts a READ COMMITTED unit of work with a bounded lock wait.
func (r *Repository) Begin(ctx context.Context) (ports.Unit, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, storageErr("failed to begin unit of work", err)
	}
	// SET LOCAL does not accept bind parameters.
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, stmt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, storageErr("failed to set lock timeout", err)
	}
	return &unit{tx: tx}, nil
}

type unit struct {
	tx pgx.Tx
}

func (u *unit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return storageErr("failed to commit unit of work", err)
	}
	return nil
}

func (u *unit) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return storageErr("failed to roll back unit of work", err)
	}
	return nil
}

func (u *unit) CreateTrade(ctx context.Context, t *domain.Trade) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO trades (trade_id, user_id, instrument, quantity, price, trade_type, broker, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8::numeric, $9)`,
		t.ID, t.UserID, t.Instrument, t.Quantity, t.Price.String(), string(t.Kind), t.Broker, t.Total.String(), t.CreatedAt)
	if err != nil {
		return storageErr(fmt.Sprintf("failed to insert trade for instrument %s", t.Instrument), err)
	}
	return nil
}

func (u *unit) CreateLot(ctx context.Context, lot *domain.Lot) error {
	row := u.tx.QueryRow(ctx, `
		INSERT INTO lots (trade_id, instrument, user_id, lot_quantity, realized_quantity, lot_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING lot_id`,
		lot.TradeID, lot.Instrument, lot.UserID, lot.LotQuantity, lot.RealizedQuantity, string(lot.Status), lot.CreatedAt)
	if err := row.Scan(&lot.ID); err != nil {
		return storageErr(fmt.Sprintf("failed to insert lot for trade %s", lot.TradeID), err)
	}
	return nil
}

// LoadEligibleLots locks the open lots of (userID, instrument) and returns them sorted for policy.
func (u *unit) LoadEligibleLots(ctx context.Context, userID, instrument string, policy domain.AllocationPolicy) ([]domain.Lot, error) {
	rows, err := u.tx.Query(ctx, `
		SELECT lot_id, trade_id::text, instrument, user_id, lot_quantity, realized_quantity,
		       realized_trade_id::text, lot_status, created_at
		FROM lots
		WHERE user_id = $1 AND instrument = $2 AND lot_status <> $3
		ORDER BY lot_id
		FOR UPDATE`,
		userID, instrument, string(domain.LotFullyRealized))
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to lock lots for %s", instrument), err)
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
		return nil, storageErr(fmt.Sprintf("failed to lock lots for %s", instrument), err)
	}
	domain.SortLots(lots, policy)
	return lots, nil
}

func (u *unit) ApplyLotUpdates(ctx context.Context, updates []domain.LotUpdate) error {
	for _, up := range updates {
		tag, err := u.tx.Exec(ctx, `
			UPDATE lots
			SET realized_quantity = $1, lot_status = $2, realized_trade_id = $3
			WHERE lot_id = $4 AND realized_quantity = $5`,
			up.RealizedQuantity, string(up.Status), up.RealizedTradeID, up.LotID, up.PreviousRealized)
		if err != nil {
			return storageErr(fmt.Sprintf("failed to update lot ID %d", up.LotID), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("lot ID %d changed since it was read: %w", up.LotID, ports.ErrStorage)
		}
		if _, err := u.tx.Exec(ctx, `
			INSERT INTO lot_realizations (lot_id, trade_id, quantity)
			VALUES ($1, $2, $3)`,
			up.LotID, up.RealizedTradeID, up.Amount); err != nil {
			return storageErr(fmt.Sprintf("failed to record realization of lot ID %d", up.LotID), err)
		}
	}
	return nil
}

// --- QueryRepository Implementation ---

func (r *Repository) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	q := `SELECT trade_id::text, user_id, instrument, quantity, price::text, trade_type, broker, total_amount::text, created_at FROM trades`
	where, args := filterClause(filter)
	q += where + ` ORDER BY created_at DESC, trade_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("failed to query trades", err)
	}
	defer rows.Close()

	out := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, storageErr("failed to scan trade", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating trade rows", err)
	}
	return out, nil
}

func (r *Repository) FindTradeByID(ctx context.Context, id string) (*domain.Trade, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT trade_id::text, user_id, instrument, quantity, price::text, trade_type, broker, total_amount::text, created_at
		FROM trades WHERE trade_id::text = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
		}
		return nil, storageErr(fmt.Sprintf("failed to query trade %s", id), err)
	}
	return t, nil
}

func (r *Repository) DeleteTrade(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM trades WHERE trade_id::text = $1`, id)
	if err != nil {
		return storageErr(fmt.Sprintf("failed to delete trade %s", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListLots(ctx context.Context, filter domain.TradeFilter) ([]*domain.Lot, error) {
	q := `SELECT lot_id, trade_id::text, instrument, user_id, lot_quantity, realized_quantity,
	             realized_trade_id::text, lot_status, created_at FROM lots`
	where, args := filterClause(filter)
	q += where + ` ORDER BY created_at DESC, lot_id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("failed to query lots", err)
	}
	defer rows.Close()

	out := make([]*domain.Lot, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, storageErr("failed to scan lot", err)
		}
		out = append(out, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating lot rows", err)
	}
	return out, nil
}

func (r *Repository) ListRealizations(ctx context.Context, lotID int64) ([]*domain.Realization, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lot_id, trade_id::text, quantity, created_at
		FROM lot_realizations WHERE lot_id = $1 ORDER BY id`, lotID)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to query realizations of lot %d", lotID), err)
	}
	return collectRealizations(rows)
}

// collectRealizations drains rows and closes them.
func collectRealizations(rows pgx.Rows) ([]*domain.Realization, error) {
	defer rows.Close()

	out := make([]*domain.Realization, 0)
	for rows.Next() {
		rz := &domain.Realization{}
		if err := rows.Scan(&rz.LotID, &rz.TradeID, &rz.Quantity, &rz.CreatedAt); err != nil {
			return nil, storageErr("failed to scan realization", err)
		}
		out = append(out, rz)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error iterating realization rows", err)
	}
	return out, nil
}

// --- Helpers ---

func filterClause(filter domain.TradeFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Instrument != "" {
		args = append(args, filter.Instrument)
		conds = append(conds, fmt.Sprintf("instrument = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// storageErr classifies a pgx error as a lock timeout or a generic storage fault.
func storageErr(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgQueryCanceled:
			return fmt.Errorf("%s: %w: %w", msg, ports.ErrLockTimeout, err)
		case pgDeadlockDetected:
			return fmt.Errorf("%s (deadlock): %w: %w", msg, ports.ErrStorage, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", msg, ports.ErrStorage, err)
}

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	t := &domain.Trade{}
	var priceStr, totalStr, kind string
	if err := row.Scan(&t.ID, &t.UserID, &t.Instrument, &t.Quantity, &priceStr, &kind, &t.Broker, &totalStr, &t.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if t.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if t.Total, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	t.Kind = domain.TradeKind(kind)
	return t, nil
}

func scanLot(row pgx.Row) (*domain.Lot, error) {
	l := &domain.Lot{}
	var realizedTradeID *string
	var status string
	if err := row.Scan(&l.ID, &l.TradeID, &l.Instrument, &l.UserID, &l.LotQuantity, &l.RealizedQuantity,
		&realizedTradeID, &status, &l.CreatedAt); err != nil {
		return nil, err
	}
	if realizedTradeID != nil {
		l.RealizedTradeID = *realizedTradeID
	}
	l.Status = domain.LotStatus(status)
	return l, nil
}
