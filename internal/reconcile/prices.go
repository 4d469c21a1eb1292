package reconcile

import (
	"strings"
	"time"

	"brokerdash/internal/models"
)

// PriceUpdate is a freshly fetched last traded price for one instrument.
type PriceUpdate struct {
	Symbol   string
	Exchange models.Exchange
	Price    float64
}

// ReconcilePriceRefresh overwrites the current price of every holding that has
// a matching update and refolds the totals. Holdings without an update keep
// their stale price. Non-positive prices are ignored. It returns the updated
// copy and the number of holdings that changed.
func ReconcilePriceRefresh(p *models.Portfolio, updates []PriceUpdate, now time.Time) (*models.Portfolio, int) {
	prices := make(map[models.HoldingKey]float64, len(updates))
	for _, u := range updates {
		if u.Price <= 0 {
			continue
		}
		key := models.HoldingKey{Symbol: strings.ToUpper(u.Symbol), Exchange: u.Exchange}
		prices[key] = u.Price
	}

	next := p.Clone()
	applied := 0
	for i := range next.Holdings {
		h := &next.Holdings[i]
		price, ok := prices[h.Key()]
		if !ok {
			continue
		}
		h.CurrentPrice = price
		h.LastUpdated = now
		applied++
	}

	Recompute(next)
	if applied > 0 {
		next.UpdatedAt = now
	}
	return next, applied
}

// UpsertHolding adds a holding or replaces the one with the same key, then refolds.
func UpsertHolding(p *models.Portfolio, h models.Holding, now time.Time) *models.Portfolio {
	next := p.Clone()
	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	h.LastUpdated = now
	if i := next.FindHolding(h.Key()); i >= 0 {
		next.Holdings[i] = h
	} else {
		next.Holdings = append(next.Holdings, h)
	}
	Recompute(next)
	next.UpdatedAt = now
	return next
}

// RemoveHolding drops the holding with the given key and refolds. ok is false
// when no such holding exists, in which case p is returned unchanged.
func RemoveHolding(p *models.Portfolio, key models.HoldingKey, now time.Time) (next *models.Portfolio, ok bool) {
	key.Symbol = strings.ToUpper(strings.TrimSpace(key.Symbol))
	i := p.FindHolding(key)
	if i < 0 {
		return p, false
	}
	next = p.Clone()
	next.Holdings = append(next.Holdings[:i], next.Holdings[i+1:]...)
	Recompute(next)
	next.UpdatedAt = now
	return next, true
}
