package reconcile

import (
	"fmt"
	"strings"
	"time"

	"brokerdash/internal/broker"
	"brokerdash/internal/models"
)

// SyntheticOrderPrefix marks client order ids minted for broker orders that
// were never placed through this service.
const SyntheticOrderPrefix = "SYNC-"

// SyntheticOrderID returns the client order id for an unmatched broker order.
func SyntheticOrderID(brokerOrderID string) string {
	return SyntheticOrderPrefix + brokerOrderID
}

// MergeResult is the outcome of merging a broker order book into local orders.
// Updated holds only orders whose stored fields actually changed.
type MergeResult struct {
	Updated   []models.Order
	Created   []models.Order
	Unchanged int
	Failed    []RecordError
}

// MergeOrderBook reconciles a broker order-book snapshot against the user's
// local orders. A broker record matches a local order whose BrokerOrderID or
// ID equals the record's order id; nothing else (symbol, quantity) is used to
// match. Matched orders take the broker's status and fill details. Unmatched
// records become new sync-sourced orders. Local orders absent from the
// snapshot are never touched. One bad record never stops the others.
func MergeOrderBook(userID string, local []models.Order, records []broker.OrderRecord, now time.Time) MergeResult {
	byID := make(map[string]*models.Order, len(local)*2)
	working := make([]models.Order, len(local))
	copy(working, local)
	for i := range working {
		o := &working[i]
		if o.BrokerOrderID != "" {
			byID[o.BrokerOrderID] = o
		}
		if _, taken := byID[o.ID]; !taken {
			byID[o.ID] = o
		}
	}

	var result MergeResult
	changed := make(map[*models.Order]bool)
	created := make(map[string]int)

	for i, rec := range records {
		id := strings.TrimSpace(rec.OrderID)
		if id == "" {
			result.Failed = append(result.Failed, RecordError{Index: i, Key: rec.TradingSymbol, Err: fmt.Errorf("missing order id")})
			continue
		}

		if at, ok := created[id]; ok {
			applyBrokerState(&result.Created[at], rec, now)
			continue
		}

		if o, ok := byID[id]; ok {
			if applyBrokerState(o, rec, now) {
				changed[o] = true
			}
			continue
		}

		o, err := syntheticOrder(userID, rec, now)
		if err != nil {
			result.Failed = append(result.Failed, RecordError{Index: i, Key: id, Err: err})
			continue
		}
		created[id] = len(result.Created)
		result.Created = append(result.Created, o)
	}

	for i := range working {
		if changed[&working[i]] {
			result.Updated = append(result.Updated, working[i])
		}
	}
	result.Unchanged = len(local) - len(result.Updated)

	return result
}

// applyBrokerState copies the broker's view onto o and reports whether any
// stored field changed.
func applyBrokerState(o *models.Order, rec broker.OrderRecord, now time.Time) bool {
	before := *o

	if o.BrokerOrderID == "" {
		o.BrokerOrderID = rec.OrderID
	}
	// A record without a status says nothing about progress.
	if strings.TrimSpace(rec.Status) != "" {
		o.Status = broker.StatusMapping(rec.Status)
	}
	if rec.Text != "" {
		o.StatusMessage = rec.Text
	}
	if rec.FilledShares.Valid {
		o.FilledQuantity = rec.FilledShares.Decimal.IntPart()
	}
	if rec.AveragePrice.Valid {
		o.AveragePrice = rec.AveragePrice.Decimal.InexactFloat64()
	}
	if rec.ExchOrderID != "" {
		o.ExchangeOrderID = rec.ExchOrderID
	}
	if o.FilledQuantity > o.Quantity {
		// The broker's quantity is authoritative after an external amendment.
		o.Quantity = o.FilledQuantity
		if q := rec.Quantity.IntPart(); q > o.Quantity {
			o.Quantity = q
		}
	}

	if sameBrokerState(before, *o) {
		*o = before
		return false
	}

	o.UpdatedAt = rec.Updated()
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	return true
}

func sameBrokerState(a, b models.Order) bool {
	return a.BrokerOrderID == b.BrokerOrderID &&
		a.Status == b.Status &&
		a.StatusMessage == b.StatusMessage &&
		a.FilledQuantity == b.FilledQuantity &&
		a.AveragePrice == b.AveragePrice &&
		a.ExchangeOrderID == b.ExchangeOrderID &&
		a.Quantity == b.Quantity
}

func syntheticOrder(userID string, rec broker.OrderRecord, now time.Time) (models.Order, error) {
	symbol := strings.ToUpper(strings.TrimSpace(rec.TradingSymbol))
	if symbol == "" {
		return models.Order{}, fmt.Errorf("missing trading symbol")
	}
	exchange, err := models.ParseExchange(rec.Exchange)
	if err != nil {
		return models.Order{}, err
	}
	side := models.TransactionType(strings.ToUpper(strings.TrimSpace(rec.TransactionType)))
	if !side.Valid() {
		return models.Order{}, fmt.Errorf("unknown transaction type %q", rec.TransactionType)
	}

	o := models.Order{
		ID:              SyntheticOrderID(rec.OrderID),
		UserID:          userID,
		BrokerOrderID:   rec.OrderID,
		ExchangeOrderID: rec.ExchOrderID,
		Source:          models.SourceSync,
		Symbol:          symbol,
		Exchange:        exchange,
		InstrumentToken: rec.SymbolToken,
		OrderType:       broker.ParseOrderType(rec.OrderType),
		TransactionType: side,
		ProductType:     models.ProductType(strings.ToUpper(rec.ProductType)),
		Quantity:        rec.Quantity.IntPart(),
		Status:          broker.StatusMapping(rec.Status),
		StatusMessage:   rec.Text,
		Validity:        rec.Duration,
		Variety:         rec.Variety,
		OrderTime:       rec.Placed(),
		UpdatedAt:       rec.Updated(),
	}
	if rec.Price.Valid && rec.Price.Decimal.IsPositive() {
		o.Price = models.Float64(rec.Price.Decimal.InexactFloat64())
	}
	if rec.TriggerPrice.Valid && rec.TriggerPrice.Decimal.IsPositive() {
		o.TriggerPrice = models.Float64(rec.TriggerPrice.Decimal.InexactFloat64())
	}
	if rec.FilledShares.Valid {
		o.FilledQuantity = rec.FilledShares.Decimal.IntPart()
	}
	if rec.AveragePrice.Valid {
		o.AveragePrice = rec.AveragePrice.Decimal.InexactFloat64()
	}
	if o.FilledQuantity > o.Quantity {
		o.Quantity = o.FilledQuantity
	}
	if o.Validity == "" {
		o.Validity = models.ValidityDay
	}
	if o.Variety == "" {
		o.Variety = models.VarietyNormal
	}
	if o.OrderTime.IsZero() {
		o.OrderTime = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.OrderTime
	}

	return o, nil
}
