package utils

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

func TestReadTradeRows(t *testing.T) {
	input := `instrument,quantity,price,broker,trade_type,method
AAPL,10,187.25,ibkr,BUY,
AAPL,4,190,ibkr,sell,LIFO
MSFT,2,410.10,degiro,SELL,
`
	rows, err := ReadTradeRows(strings.NewReader(input), "alice", domain.FIFO)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "alice", rows[0].UserID)
	assert.Equal(t, domain.Buy, rows[0].Kind)
	assert.Equal(t, int64(10), rows[0].Quantity)
	assert.True(t, decimal.RequireFromString("187.25").Equal(rows[0].Price))
	assert.Equal(t, domain.AllocationPolicy(""), rows[0].Policy)

	assert.Equal(t, domain.Sell, rows[1].Kind)
	assert.Equal(t, domain.LIFO, rows[1].Policy)
	assert.Equal(t, domain.FIFO, rows[2].Policy, "blank method falls back to the default")
	assert.Equal(t, "degiro", rows[2].Broker)
}

func TestReadTradeRows_ReorderedColumnsWithoutMethod(t *testing.T) {
	input := "trade_type,broker,price,quantity,instrument\nSELL,ibkr,12.5,3,NVDA\n"
	rows, err := ReadTradeRows(strings.NewReader(input), "bob", domain.LIFO)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "NVDA", rows[0].Instrument)
	assert.Equal(t, domain.LIFO, rows[0].Policy)
}

func TestReadTradeRows_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		row   int
		field string
	}{
		{"empty", "", -1, "header"},
		{"missing column", "instrument,quantity,price,broker\n", -1, "header"},
		{"bad quantity", "instrument,quantity,price,broker,trade_type\nAAPL,ten,1,ibkr,BUY\n", 0, "quantity"},
		{"bad price", "instrument,quantity,price,broker,trade_type\nAAPL,1,1,ibkr,BUY\nAAPL,1,x,ibkr,BUY\n", 1, "price"},
		{"bad type", "instrument,quantity,price,broker,trade_type\nAAPL,1,1,ibkr,HOLD\n", 0, "trade type"},
		{"bad method", "instrument,quantity,price,broker,trade_type,method\nAAPL,1,1,ibkr,SELL,HIFO\n", 0, "method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTradeRows(strings.NewReader(tt.input), "alice", domain.FIFO)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrValidation))
			var verr *ports.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.row, verr.Row)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestWriteLotsToCSV(t *testing.T) {
	var buf bytes.Buffer
	lots := []*domain.Lot{{
		ID: 7, TradeID: "t-1", UserID: "alice", Instrument: "AAPL",
		LotQuantity: 10, RealizedQuantity: 4, Status: domain.LotPartiallyRealized,
		RealizedTradeID: "t-2", CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	require.NoError(t, WriteLotsToCSV(lots, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "lot_id,trade_id,user_id,instrument,lot_quantity,realized_quantity,status,realized_trade_id,created_at", lines[0])
	assert.Equal(t, "7,t-1,alice,AAPL,10,4,PARTIALLY_REALIZED,t-2,2025-01-02T03:04:05Z", lines[1])
}
