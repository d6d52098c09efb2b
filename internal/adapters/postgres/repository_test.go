package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB connects to the database named by LEDGER_TEST_POSTGRES_DSN.
// Each test uses its own user ID so runs do not interfere with each other.
func setupTestDB(t *testing.T) (*Repository, string) {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	repo, err := NewRepository(context.Background(), Config{
		DatabaseURL: dsn,
		Logger:      &mockLogger{},
		LockTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, "test-" + uuid.NewString()
}

func seedBuy(t *testing.T, repo *Repository, user, instrument string, qty int64, at time.Time) *domain.Lot {
	t.Helper()
	ctx := context.Background()
	u, err := repo.Begin(ctx)
	require.NoError(t, err)
	trade := domain.NewTrade(domain.TradeRequest{
		UserID: user, Instrument: instrument, Quantity: qty,
		Price: decimal.RequireFromString("99.95"), Broker: "ibkr", Kind: domain.Buy,
	}, at)
	require.NoError(t, u.CreateTrade(ctx, trade))
	lot := domain.NewLot(trade)
	require.NoError(t, u.CreateLot(ctx, lot))
	require.NoError(t, u.Commit(ctx))
	return lot
}

func TestNewRepository_RequiresURL(t *testing.T) {
	_, err := NewRepository(context.Background(), Config{Logger: &mockLogger{}})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
}

func TestStorageErr_Classification(t *testing.T) {
	err := storageErr("op", errors.New("boom"))
	assert.True(t, errors.Is(err, ports.ErrStorage))
	assert.False(t, errors.Is(err, ports.ErrLockTimeout))
}

// brokenRows yields no rows and then reports a connection failure.
type brokenRows struct {
	pgx.Rows
	closed bool
}

func (r *brokenRows) Next() bool { return false }
func (r *brokenRows) Err() error { return errors.New("conn reset by peer") }
func (r *brokenRows) Close()     { r.closed = true }

func TestCollectRealizations_IterationErrorIsStorageError(t *testing.T) {
	rows := &brokenRows{}
	out, err := collectRealizations(rows)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ports.ErrStorage))
	assert.True(t, rows.closed)
}

func TestRepository_LoadEligibleLotsOrdering(t *testing.T) {
	repo, user := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := seedBuy(t, repo, user, "AAPL", 10, base)
	newer := seedBuy(t, repo, user, "AAPL", 20, base.Add(time.Minute))

	for policy, want := range map[domain.AllocationPolicy][]int64{
		domain.FIFO: {older.ID, newer.ID},
		domain.LIFO: {newer.ID, older.ID},
	} {
		u, err := repo.Begin(ctx)
		require.NoError(t, err)
		lots, err := u.LoadEligibleLots(ctx, user, "AAPL", policy)
		require.NoError(t, err)
		require.NoError(t, u.Rollback(ctx))

		got := []int64{}
		for _, l := range lots {
			got = append(got, l.ID)
		}
		assert.Equal(t, want, got, string(policy))
	}
}

func TestRepository_LockedReadBlocksSecondSell(t *testing.T) {
	repo, user := setupTestDB(t)
	ctx := context.Background()
	seedBuy(t, repo, user, "AAPL", 10, time.Now().UTC())

	holder, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx)
	_, err = holder.LoadEligibleLots(ctx, user, "AAPL", domain.FIFO)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var waitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		u, err := repo.Begin(ctx)
		if err != nil {
			waitErr = err
			return
		}
		defer u.Rollback(ctx)
		_, waitErr = u.LoadEligibleLots(ctx, user, "AAPL", domain.LIFO)
	}()
	wg.Wait()

	require.Error(t, waitErr)
	assert.True(t, errors.Is(waitErr, ports.ErrLockTimeout))
}

func TestRepository_BuyDoesNotWaitForSellLocks(t *testing.T) {
	repo, user := setupTestDB(t)
	ctx := context.Background()
	seedBuy(t, repo, user, "AAPL", 10, time.Now().UTC())

	holder, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx)
	_, err = holder.LoadEligibleLots(ctx, user, "AAPL", domain.FIFO)
	require.NoError(t, err)

	// Inserting a new lot for the same pair only adds rows, so it commits while the lock is held.
	seedBuy(t, repo, user, "AAPL", 5, time.Now().UTC())

	lots, err := repo.ListLots(ctx, domain.TradeFilter{UserID: user})
	require.NoError(t, err)
	assert.Len(t, lots, 2)
}

func TestRepository_ApplyLotUpdatesAndQueries(t *testing.T) {
	repo, user := setupTestDB(t)
	ctx := context.Background()
	lot := seedBuy(t, repo, user, "MSFT", 8, time.Now().UTC())

	u, err := repo.Begin(ctx)
	require.NoError(t, err)
	sell := domain.NewTrade(domain.TradeRequest{
		UserID: user, Instrument: "MSFT", Quantity: 3,
		Price: decimal.NewFromInt(120), Broker: "ibkr", Kind: domain.Sell, Policy: domain.FIFO,
	}, time.Now().UTC())
	require.NoError(t, u.CreateTrade(ctx, sell))
	require.NoError(t, u.ApplyLotUpdates(ctx, []domain.LotUpdate{{
		LotID: lot.ID, Amount: 3, RealizedQuantity: 3, Status: domain.LotPartiallyRealized, RealizedTradeID: sell.ID,
	}}))
	require.NoError(t, u.Commit(ctx))

	lots, err := repo.ListLots(ctx, domain.TradeFilter{UserID: user})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(3), lots[0].RealizedQuantity)
	assert.Equal(t, sell.ID, lots[0].RealizedTradeID)

	rz, err := repo.ListRealizations(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, rz, 1)

	found, err := repo.FindTradeByID(ctx, sell.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(360).Equal(found.Total))

	require.NoError(t, repo.DeleteTrade(ctx, sell.ID))
	_, err = repo.FindTradeByID(ctx, sell.ID)
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}
