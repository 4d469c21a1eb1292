package reconcile

import (
	"sort"

	"brokerdash/internal/models"
)

// TopMovers ranks holdings by P&L percentage. Gainers are the first limit
// holdings with a positive percentage, best first. Losers are the last limit
// holdings with a negative percentage, worst first. Holdings at exactly 0%
// appear in neither list, and ties keep portfolio order.
func TopMovers(p *models.Portfolio, limit int) models.Movers {
	movers := models.Movers{
		TopGainers: []models.Holding{},
		TopLosers:  []models.Holding{},
	}
	if p == nil || limit <= 0 {
		return movers
	}

	sorted := make([]models.Holding, len(p.Holdings))
	copy(sorted, p.Holdings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PnLPercent > sorted[j].PnLPercent
	})

	for _, h := range sorted {
		if len(movers.TopGainers) == limit || h.PnLPercent <= 0 {
			break
		}
		movers.TopGainers = append(movers.TopGainers, h)
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		h := sorted[i]
		if len(movers.TopLosers) == limit || h.PnLPercent >= 0 {
			break
		}
		movers.TopLosers = append(movers.TopLosers, h)
	}

	return movers
}
