package broker

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"brokerdash/internal/models"
)

// Feature: brokerdash, Property 1: Order payloads carry the broker's naming
//
// Property: For any order type and product, the SmartAPI payload uses the
// STOPLOSS variety for trigger orders and names every product in SmartAPI terms,
// and the order type survives a round trip through ParseOrderType.
func TestProperty_SmartOrderBodyNaming(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	orderTypes := gen.OneConstOf(models.OrderTypeMarket, models.OrderTypeLimit, models.OrderTypeStopLoss, models.OrderTypeStopLossM)
	products := gen.OneConstOf(models.ProductDelivery, models.ProductIntraday, models.ProductCarryForward,
		models.ProductCNC, models.ProductMIS, models.ProductNRML)

	properties.Property("payload naming is SmartAPI's", prop.ForAll(
		func(ot models.OrderType, pt models.ProductType, qty int64) bool {
			req := &OrderRequest{
				Symbol:          "INFY",
				Exchange:        models.NSE,
				OrderType:       ot,
				TransactionType: models.Buy,
				ProductType:     pt,
				Quantity:        qty,
				Variety:         models.VarietyNormal,
			}
			body := smartOrderBody(req)

			wantVariety := models.VarietyNormal
			if ot.RequiresTrigger() {
				wantVariety = models.VarietyStopLoss
			}
			if body["variety"] != wantVariety {
				return false
			}

			switch body["producttype"] {
			case "DELIVERY", "INTRADAY", "CARRYFORWARD":
			default:
				return false
			}

			return ParseOrderType(body["ordertype"]) == ot
		},
		orderTypes,
		products,
		gen.Int64Range(1, 10000),
	))

	properties.TestingRun(t)
}

// Feature: brokerdash, Property 2: Holding record price fallbacks
//
// Property: The average price falls back to the reported price, and the
// current price falls back to the reported price, only when the primary
// field is absent.
func TestProperty_HoldingRecordFallbacks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	optional := func(present bool, v float64) decimal.NullDecimal {
		if !present {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(v))
	}

	properties.Property("fallback order is primary then price", prop.ForAll(
		func(hasAvg, hasLTP, hasPrice bool, avg, ltp, price float64) bool {
			rec := HoldingRecord{
				AveragePrice: optional(hasAvg, avg),
				LTP:          optional(hasLTP, ltp),
				Price:        optional(hasPrice, price),
			}

			wantAvg, wantCur := 0.0, 0.0
			if hasPrice {
				wantAvg, wantCur = rec.Price.Decimal.InexactFloat64(), rec.Price.Decimal.InexactFloat64()
			}
			if hasAvg {
				wantAvg = rec.AveragePrice.Decimal.InexactFloat64()
			}
			if hasLTP {
				wantCur = rec.LTP.Decimal.InexactFloat64()
			}

			return rec.AvgPrice() == wantAvg && rec.CurrentPrice() == wantCur
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Float64Range(0.05, 50000),
		gen.Float64Range(0.05, 50000),
		gen.Float64Range(0.05, 50000),
	))

	properties.TestingRun(t)
}
