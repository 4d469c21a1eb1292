package broker

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"brokerdash/internal/models"
	"brokerdash/pkg/utils"
)

// HoldingRecord is one broker-reported holding. Price fields are optional and
// a broker may fill any subset of them:
//
//	average price: AveragePrice, then Price
//	current price: LTP, then Price
//
// A zero quantity means the position was closed.
type HoldingRecord struct {
	Symbol          string              `json:"symbol"`
	Exchange        string              `json:"exchange"`
	InstrumentToken string              `json:"instrumentToken"`
	Quantity        int64               `json:"quantity"`
	AveragePrice    decimal.NullDecimal `json:"averagePrice"`
	LTP             decimal.NullDecimal `json:"ltp"`
	Price           decimal.NullDecimal `json:"price"`
}

// AvgPrice returns the acquisition price, falling back to the reported price.
func (r HoldingRecord) AvgPrice() float64 {
	return firstValid(r.AveragePrice, r.Price)
}

// CurrentPrice returns the live price, falling back to the reported price.
func (r HoldingRecord) CurrentPrice() float64 {
	return firstValid(r.LTP, r.Price)
}

// HasPrice reports whether the broker sent any usable price field.
func (r HoldingRecord) HasPrice() bool {
	return r.AveragePrice.Valid || r.LTP.Valid || r.Price.Valid
}

// OrderRecord is one entry of the broker's order book, in the broker's wire shape.
type OrderRecord struct {
	OrderID         string              `json:"orderid"`
	TradingSymbol   string              `json:"tradingsymbol"`
	Exchange        string              `json:"exchange"`
	SymbolToken     string              `json:"symboltoken"`
	OrderType       string              `json:"ordertype"`
	TransactionType string              `json:"transactiontype"`
	ProductType     string              `json:"producttype"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Price           decimal.NullDecimal `json:"price"`
	TriggerPrice    decimal.NullDecimal `json:"triggerprice"`
	Status          string              `json:"status"`
	Text            string              `json:"text"`
	FilledShares    decimal.NullDecimal `json:"filledshares"`
	AveragePrice    decimal.NullDecimal `json:"averageprice"`
	ExchOrderID     string              `json:"exchorderid"`
	OrderTime       string              `json:"ordertime"`
	UpdateTime      string              `json:"updatetime"`
	Variety         string              `json:"variety"`
	Duration        string              `json:"duration"`
}

// Broker timestamp layouts, tried in order. Times without a zone are IST.
var orderTimeLayouts = []string{
	"02-Jan-2006 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseOrderTime parses a broker order timestamp. ok is false when s is empty
// or in an unknown layout.
func ParseOrderTime(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range orderTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, utils.IndiaLocation); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Placed returns the order time, or zero when absent.
func (r OrderRecord) Placed() time.Time {
	t, _ := ParseOrderTime(r.OrderTime)
	return t
}

// Updated returns the update time, falling back to the order time.
func (r OrderRecord) Updated() time.Time {
	if t, ok := ParseOrderTime(r.UpdateTime); ok {
		return t
	}
	return r.Placed()
}

// StatusMapping returns the local order status for a broker status string.
func StatusMapping(brokerStatus string) models.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(brokerStatus)) {
	case "":
		return models.OrderPending
	case "complete":
		return models.OrderComplete
	case "cancelled", "canceled":
		return models.OrderCancelled
	case "rejected":
		return models.OrderRejected
	case "modified":
		return models.OrderModified
	default:
		// open, trigger pending, validation pending, open pending,
		// after market order req received, put order req received
		return models.OrderOpen
	}
}

func firstValid(values ...decimal.NullDecimal) float64 {
	for _, v := range values {
		if v.Valid {
			return v.Decimal.InexactFloat64()
		}
	}
	return 0
}
