package domain

import (
	"fmt"
	"strings"
)

// TradeKind represents the side of a trade (BUY or SELL).
type TradeKind string

const (
	Buy  TradeKind = "BUY"
	Sell TradeKind = "SELL"
)

// Valid reports whether k is one of the known trade kinds.
func (k TradeKind) Valid() bool {
	return k == Buy || k == Sell
}

// ParseTradeKind converts a case-insensitive string into a TradeKind.
func ParseTradeKind(s string) (TradeKind, error) {
	switch TradeKind(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown trade kind %q", s)
	}
}

// LotStatus represents how much of a lot has been sold.
type LotStatus string

const (
	LotOpen              LotStatus = "OPEN"
	LotPartiallyRealized LotStatus = "PARTIALLY_REALIZED"
	LotFullyRealized     LotStatus = "FULLY_REALIZED"
)

// rank orders statuses from least to most realized.
func (s LotStatus) rank() int {
	switch s {
	case LotOpen:
		return 0
	case LotPartiallyRealized:
		return 1
	case LotFullyRealized:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known lot statuses.
func (s LotStatus) Valid() bool { return s.rank() >= 0 }

// CanBecome reports whether moving from s to next keeps the status monotonic.
func (s LotStatus) CanBecome(next LotStatus) bool {
	return s.Valid() && next.Valid() && next.rank() >= s.rank()
}

// AllocationPolicy selects which lots a sell consumes first.
type AllocationPolicy string

const (
	FIFO AllocationPolicy = "FIFO" // Oldest lot first
	LIFO AllocationPolicy = "LIFO" // Newest lot first
)

// Valid reports whether p is FIFO or LIFO.
func (p AllocationPolicy) Valid() bool {
	return p == FIFO || p == LIFO
}

// ParseAllocationPolicy converts a case-insensitive string into an AllocationPolicy.
func ParseAllocationPolicy(s string) (AllocationPolicy, error) {
	switch AllocationPolicy(strings.ToUpper(strings.TrimSpace(s))) {
	case FIFO:
		return FIFO, nil
	case LIFO:
		return LIFO, nil
	default:
		return "", fmt.Errorf("unknown allocation policy %q (want FIFO or LIFO)", s)
	}
}
