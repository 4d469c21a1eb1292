package trading

import (
	"strings"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
)

// PlaceOrderRequest is a user's order submission.
type PlaceOrderRequest struct {
	Symbol          string                 `json:"symbol"`
	Exchange        models.Exchange        `json:"exchange"`
	InstrumentToken string                 `json:"instrument_token"`
	OrderType       models.OrderType       `json:"order_type"`
	TransactionType models.TransactionType `json:"transaction_type"`
	ProductType     models.ProductType     `json:"product_type"`
	Quantity        int64                  `json:"quantity"`
	Price           *float64               `json:"price,omitempty"`
	TriggerPrice    *float64               `json:"trigger_price,omitempty"`
	Validity        string                 `json:"validity,omitempty"`
	Variety         string                 `json:"variety,omitempty"`
}

// ModifyOrderRequest amends an open order. Zero or nil fields keep the
// order's current value.
type ModifyOrderRequest struct {
	OrderType    models.OrderType `json:"order_type,omitempty"`
	Quantity     int64            `json:"quantity,omitempty"`
	Price        *float64         `json:"price,omitempty"`
	TriggerPrice *float64         `json:"trigger_price,omitempty"`
}

// ValidateOrderRequest checks an order before it reaches the broker. Rules run
// in a fixed order and the first violation is returned as a *ValidationError
// wrapping ErrInvalidOrder:
//
//	required fields (symbol, exchange, transaction type, order type)
//	quantity > 0
//	price > 0 for LIMIT and SL
//	trigger price > 0 for SL and SL-M
func ValidateOrderRequest(req *PlaceOrderRequest) error {
	if req == nil {
		return invalidOrder("order", nil, "order request is required")
	}

	if strings.TrimSpace(req.Symbol) == "" {
		return invalidOrder("symbol", req.Symbol, "symbol is required")
	}
	if req.Exchange == "" {
		return invalidOrder("exchange", req.Exchange, "exchange is required")
	}
	if !req.Exchange.Valid() {
		return invalidOrder("exchange", req.Exchange, "unsupported exchange")
	}
	if req.TransactionType == "" {
		return invalidOrder("transaction_type", req.TransactionType, "transaction type is required")
	}
	if !req.TransactionType.Valid() {
		return invalidOrder("transaction_type", req.TransactionType, "transaction type must be BUY or SELL")
	}
	if req.OrderType == "" {
		return invalidOrder("order_type", req.OrderType, "order type is required")
	}
	if !req.OrderType.Valid() {
		return invalidOrder("order_type", req.OrderType, "order type must be MARKET, LIMIT, SL or SL-M")
	}

	if req.Quantity <= 0 {
		return invalidOrder("quantity", req.Quantity, "quantity must be greater than 0")
	}

	if req.OrderType.RequiresPrice() && (req.Price == nil || *req.Price <= 0) {
		return invalidOrder("price", priceValue(req.Price), "price is required for "+string(req.OrderType)+" orders")
	}

	if req.OrderType.RequiresTrigger() && (req.TriggerPrice == nil || *req.TriggerPrice <= 0) {
		return invalidOrder("trigger_price", priceValue(req.TriggerPrice), "trigger price is required for "+string(req.OrderType)+" orders")
	}

	return nil
}

func invalidOrder(field string, value interface{}, message string) error {
	ve := apperrors.NewValidationError(field, value, message)
	ve.Err = apperrors.ErrInvalidOrder
	return ve
}

func priceValue(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// requestFromOrder rebuilds the submission an order was created from, so
// amendments go through the same rules.
func requestFromOrder(o *models.Order) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		Symbol:          o.Symbol,
		Exchange:        o.Exchange,
		InstrumentToken: o.InstrumentToken,
		OrderType:       o.OrderType,
		TransactionType: o.TransactionType,
		ProductType:     o.ProductType,
		Quantity:        o.Quantity,
		Price:           o.Price,
		TriggerPrice:    o.TriggerPrice,
		Validity:        o.Validity,
		Variety:         o.Variety,
	}
}
