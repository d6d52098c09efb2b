package ledger

import "lotledger/internal/domain"

// Allocation is the outcome of walking the candidate lots for one sell.
type Allocation struct {
	Updates   []domain.LotUpdate // In consumption order; empty when infeasible
	Requested int64
	Available int64 // Total capacity of the eligible candidates
}

// Allocate decides which lots a sell of quantity consumes and by how much.
// candidates must already be sorted by the allocation policy. The result is all or
// nothing: when the candidates cannot cover quantity, ok is false and no updates are
// returned. tradeID is recorded as the realizing trade of every touched lot.
func Allocate(candidates []domain.Lot, quantity int64, tradeID string) (Allocation, bool) {
	alloc := Allocation{Requested: quantity}
	for i := range candidates {
		alloc.Available += eligibleCapacity(&candidates[i])
	}
	if quantity <= 0 || alloc.Available < quantity {
		return alloc, false
	}

	remaining := quantity
	for i := range candidates {
		if remaining == 0 {
			break
		}
		lot := &candidates[i]
		available := eligibleCapacity(lot)
		if available == 0 {
			continue
		}
		take := available
		if available >= remaining {
			take = remaining
		}
		realized := lot.RealizedQuantity + take
		alloc.Updates = append(alloc.Updates, domain.LotUpdate{
			LotID:            lot.ID,
			Amount:           take,
			PreviousRealized: lot.RealizedQuantity,
			RealizedQuantity: realized,
			Status:           domain.DeriveStatus(lot.LotQuantity, realized),
			RealizedTradeID:  tradeID,
		})
		remaining -= take
	}
	return alloc, true
}

// eligibleCapacity is the sellable quantity of a lot, zero for fully realized or corrupt lots.
// A lot whose stored status is ahead of its quantities (or unknown) is corrupt: touching it
// would move its status backwards.
func eligibleCapacity(lot *domain.Lot) int64 {
	if lot.Status == domain.LotFullyRealized {
		return 0
	}
	if !lot.Status.CanBecome(domain.DeriveStatus(lot.LotQuantity, lot.RealizedQuantity)) {
		return 0
	}
	if avail := lot.Available(); avail > 0 {
		return avail
	}
	return 0
}
