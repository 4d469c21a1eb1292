package models

import "time"

// OrderStatus is the local lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderOpen      OrderStatus = "OPEN"
	OrderComplete  OrderStatus = "COMPLETE"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderModified  OrderStatus = "MODIFIED"
)

// IsTerminal reports whether no further transitions are expected.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderComplete || s == OrderCancelled || s == OrderRejected
}

// OrderSource records who introduced an order record.
type OrderSource string

const (
	SourceUser OrderSource = "user"
	SourceSync OrderSource = "sync"
)

// Order represents one trade intent, placed locally or backfilled from the broker.
type Order struct {
	// ID is the client-generated id, unique and assigned at creation.
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	BrokerOrderID   string          `json:"broker_order_id,omitempty"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Source          OrderSource     `json:"source"`
	Symbol          string          `json:"symbol"`
	Exchange        Exchange        `json:"exchange"`
	InstrumentToken string          `json:"instrument_token"`
	OrderType       OrderType       `json:"order_type"`
	TransactionType TransactionType `json:"transaction_type"`
	ProductType     ProductType     `json:"product_type"`
	Quantity        int64           `json:"quantity"`
	Price           *float64        `json:"price,omitempty"`
	TriggerPrice    *float64        `json:"trigger_price,omitempty"`
	Status          OrderStatus     `json:"status"`
	StatusMessage   string          `json:"status_message,omitempty"`
	FilledQuantity  int64           `json:"filled_quantity"`
	AveragePrice    float64         `json:"average_price"`
	Validity        string          `json:"validity"`
	Variety         string          `json:"variety"`
	OrderTime       time.Time       `json:"order_time"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Float64 returns a pointer to v, for the optional price fields.
func Float64(v float64) *float64 {
	return &v
}
