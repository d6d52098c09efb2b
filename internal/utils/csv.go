package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/domain"
	"lotledger/internal/ports"
)

var requiredColumns = []string{"instrument", "quantity", "price", "broker", "trade_type"}

// ReadTradeRows parses a trade CSV with a header row into requests for userID.
// Columns may appear in any order; "method" is optional and falls back to defaultPolicy for sells.
// Parse failures are reported as *ports.ValidationError naming the zero-based data row.
func ReadTradeRows(r io.Reader, userID string, defaultPolicy domain.AllocationPolicy) ([]domain.TradeRequest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ports.ValidationError{Row: -1, Field: "header", Reason: "is missing"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, &ports.ValidationError{Row: -1, Field: "header", Reason: fmt.Sprintf("lacks column %q", name)}
		}
	}
	methodCol, hasMethod := cols["method"]

	var rows []domain.TradeRequest
	for row := 0; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", row, err)
		}
		field := func(name string) string {
			i := cols[name]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		qty, err := strconv.ParseInt(field("quantity"), 10, 64)
		if err != nil {
			return nil, &ports.ValidationError{Row: row, Field: "quantity", Reason: "must be an integer"}
		}
		price, err := decimal.NewFromString(field("price"))
		if err != nil {
			return nil, &ports.ValidationError{Row: row, Field: "price", Reason: "must be a decimal number"}
		}
		kind, err := domain.ParseTradeKind(field("trade_type"))
		if err != nil {
			return nil, &ports.ValidationError{Row: row, Field: "trade type", Reason: "must be BUY or SELL"}
		}

		req := domain.TradeRequest{
			UserID:     userID,
			Instrument: field("instrument"),
			Quantity:   qty,
			Price:      price,
			Broker:     field("broker"),
			Kind:       kind,
		}
		if kind == domain.Sell {
			req.Policy = defaultPolicy
			if hasMethod && methodCol < len(record) && strings.TrimSpace(record[methodCol]) != "" {
				policy, err := domain.ParseAllocationPolicy(record[methodCol])
				if err != nil {
					return nil, &ports.ValidationError{Row: row, Field: "method", Reason: "must be FIFO or LIFO for a sell"}
				}
				req.Policy = policy
			}
		}
		rows = append(rows, req)
	}
	return rows, nil
}

// WriteLotsToCSV writes lots with a header row.
func WriteLotsToCSV(lots []*domain.Lot, w io.Writer) error {
	writer := csv.NewWriter(w)

	// Write header
	writer.Write([]string{"lot_id", "trade_id", "user_id", "instrument", "lot_quantity", "realized_quantity", "status", "realized_trade_id", "created_at"})

	for _, l := range lots {
		writer.Write([]string{
			strconv.FormatInt(l.ID, 10),
			l.TradeID,
			l.UserID,
			l.Instrument,
			strconv.FormatInt(l.LotQuantity, 10),
			strconv.FormatInt(l.RealizedQuantity, 10),
			string(l.Status),
			l.RealizedTradeID,
			l.CreatedAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
	return writer.Error()
}
