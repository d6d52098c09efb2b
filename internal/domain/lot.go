package domain

import (
	"sort"
	"time"
)

// Lot is a slice of inventory created by one BUY trade and consumed by later sells.
type Lot struct {
	ID               int64     // Storage-assigned, increasing in insertion order
	TradeID          string    // BUY trade that opened the lot
	Instrument       string    // Instrument name
	UserID           string    // Owner of the lot
	LotQuantity      int64     // Original size, fixed at creation
	RealizedQuantity int64     // Cumulative quantity sold out of this lot
	RealizedTradeID  string    // Most recent trade that realized part of the lot (empty if none)
	Status           LotStatus // Always DeriveStatus(LotQuantity, RealizedQuantity)
	CreatedAt        time.Time // Ordering key for FIFO/LIFO
}

// Available returns the quantity that can still be sold from the lot.
func (l *Lot) Available() int64 {
	return l.LotQuantity - l.RealizedQuantity
}

// NewLot opens a lot for a BUY trade.
func NewLot(t *Trade) *Lot {
	return &Lot{
		TradeID:     t.ID,
		Instrument:  t.Instrument,
		UserID:      t.UserID,
		LotQuantity: t.Quantity,
		Status:      DeriveStatus(t.Quantity, 0),
		CreatedAt:   t.CreatedAt,
	}
}

// DeriveStatus is the single place a lot status is computed from its quantities.
func DeriveStatus(lotQuantity, realizedQuantity int64) LotStatus {
	switch {
	case realizedQuantity <= 0:
		return LotOpen
	case realizedQuantity < lotQuantity:
		return LotPartiallyRealized
	default:
		return LotFullyRealized
	}
}

// LotUpdate describes the mutation a sell applies to one lot.
type LotUpdate struct {
	LotID            int64
	Amount           int64 // Newly realized by this sell
	PreviousRealized int64
	RealizedQuantity int64 // PreviousRealized + Amount
	Status           LotStatus
	RealizedTradeID  string
}

// Realization is one audit record of a sell consuming part of a lot.
type Realization struct {
	LotID     int64
	TradeID   string
	Quantity  int64
	CreatedAt time.Time
}

// SortLots orders lots for the given policy: FIFO by ascending creation time, LIFO by
// descending creation time. Ties are broken by ascending lot ID under both policies.
func SortLots(lots []Lot, policy AllocationPolicy) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if policy == LIFO {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
