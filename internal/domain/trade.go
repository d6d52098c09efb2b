package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade represents an executed BUY or SELL order. Trades are never updated once created.
type Trade struct {
	ID         string          // UUID assigned at creation
	UserID     string          // Owner of the trade
	Instrument string          // Instrument name (e.g., "AAPL")
	Quantity   int64           // Number of units traded, always positive
	Price      decimal.Decimal // Unit price, always positive
	Kind       TradeKind       // BUY or SELL
	Broker     string          // Broker label
	Total      decimal.Decimal // Quantity * Price
	CreatedAt  time.Time       // Execution timestamp
}

// TradeRequest is a trade as submitted by a caller, before it is recorded.
// Policy is only meaningful for sells.
type TradeRequest struct {
	UserID     string
	Instrument string
	Quantity   int64
	Price      decimal.Decimal
	Broker     string
	Kind       TradeKind
	Policy     AllocationPolicy
}

// NewTrade builds a Trade from a request, assigning an ID and deriving the total.
func NewTrade(req TradeRequest, createdAt time.Time) *Trade {
	return &Trade{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Instrument: req.Instrument,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Kind:       req.Kind,
		Broker:     req.Broker,
		Total:      TradeTotal(req.Quantity, req.Price),
		CreatedAt:  createdAt,
	}
}

// TradeTotal is the notional value of quantity units at price.
func TradeTotal(quantity int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}

// TradeFilter narrows trade and lot listings. An empty UserID matches every user.
type TradeFilter struct {
	UserID     string
	Instrument string
	Limit      int
}
