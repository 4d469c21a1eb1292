// Package reconcile holds the pure portfolio and order-book reconciliation
// logic. Nothing here performs I/O: callers fetch broker snapshots, pass them
// in, and persist what comes back.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"brokerdash/internal/broker"
	"brokerdash/internal/models"
)

// RecordError describes one broker record that could not be applied.
type RecordError struct {
	Index int
	Key   string
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.Key, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// Recompute revalues every holding and refolds the portfolio totals.
// Totals are always an exact fold of the holdings list: TotalPnL is the
// difference of the two sums, never a sum of per-holding P&L.
func Recompute(p *models.Portfolio) {
	var invested, current float64
	for i := range p.Holdings {
		h := &p.Holdings[i]
		h.Revalue()
		invested += h.InvestedValue
		current += h.CurrentValue
	}

	p.TotalInvestedValue = invested
	p.TotalCurrentValue = current
	p.TotalPnL = current - invested
	p.TotalPnLPercentage = 0
	if invested != 0 {
		p.TotalPnLPercentage = p.TotalPnL / invested * 100
	}
}

// ReconcileFullSync replaces the holdings of current with the broker snapshot.
//
// Records with quantity <= 0 are closed positions and are dropped. Records that
// cannot identify an instrument or carry no price are reported back and skipped. When the snapshot
// names the same (symbol, exchange) twice the later record wins. current is not
// modified.
func ReconcileFullSync(current *models.Portfolio, records []broker.HoldingRecord, now time.Time) (*models.Portfolio, []RecordError) {
	next := current.Clone()
	next.Holdings = make([]models.Holding, 0, len(records))

	var skipped []RecordError
	index := make(map[models.HoldingKey]int, len(records))

	for i, rec := range records {
		if rec.Quantity <= 0 {
			continue
		}

		h, err := holdingFromRecord(rec, now)
		if err != nil {
			skipped = append(skipped, RecordError{Index: i, Key: rec.Exchange + ":" + rec.Symbol, Err: err})
			continue
		}

		if at, ok := index[h.Key()]; ok {
			next.Holdings[at] = h
			continue
		}
		index[h.Key()] = len(next.Holdings)
		next.Holdings = append(next.Holdings, h)
	}

	Recompute(next)
	next.LastSyncAt = now
	next.UpdatedAt = now
	next.SyncStatus = models.SyncCompleted
	next.SyncMessage = ""

	return next, skipped
}

func holdingFromRecord(rec broker.HoldingRecord, now time.Time) (models.Holding, error) {
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if symbol == "" {
		return models.Holding{}, fmt.Errorf("missing symbol")
	}
	exchange, err := models.ParseExchange(rec.Exchange)
	if err != nil {
		return models.Holding{}, err
	}
	if !rec.HasPrice() {
		return models.Holding{}, fmt.Errorf("no average or last price")
	}

	return models.Holding{
		Symbol:          symbol,
		Exchange:        exchange,
		InstrumentToken: rec.InstrumentToken,
		Quantity:        rec.Quantity,
		AveragePrice:    rec.AvgPrice(),
		CurrentPrice:    rec.CurrentPrice(),
		LastUpdated:     now,
	}, nil
}

// MarkSyncing returns a copy of p flagged as syncing.
func MarkSyncing(p *models.Portfolio, now time.Time) *models.Portfolio {
	next := p.Clone()
	next.SyncStatus = models.SyncSyncing
	next.SyncMessage = ""
	next.UpdatedAt = now
	return next
}

// MarkSyncFailed returns a copy of p flagged as failed with the broker's message.
// Holdings, totals and LastSyncAt are left as they were.
func MarkSyncFailed(p *models.Portfolio, message string, now time.Time) *models.Portfolio {
	next := p.Clone()
	next.SyncStatus = models.SyncFailed
	next.SyncMessage = message
	next.UpdatedAt = now
	return next
}
