// Package models provides domain models for the brokerage dashboard.
package models

import (
	"fmt"
	"strings"
)

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
	CDS Exchange = "CDS" // Currency
	MCX Exchange = "MCX" // Commodity
)

var exchanges = map[Exchange]bool{NSE: true, BSE: true, NFO: true, BFO: true, CDS: true, MCX: true}

// ParseExchange normalizes and validates an exchange code.
func ParseExchange(s string) (Exchange, error) {
	e := Exchange(strings.ToUpper(strings.TrimSpace(s)))
	if !exchanges[e] {
		return "", fmt.Errorf("unknown exchange: %q", s)
	}
	return e, nil
}

// Valid reports whether e is a supported exchange.
func (e Exchange) Valid() bool {
	return exchanges[e]
}

// TransactionType represents the side of an order.
type TransactionType string

const (
	Buy  TransactionType = "BUY"
	Sell TransactionType = "SELL"
)

// Valid reports whether t is BUY or SELL.
func (t TransactionType) Valid() bool {
	return t == Buy || t == Sell
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// Valid reports whether t is a supported order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeStopLossM:
		return true
	}
	return false
}

// RequiresPrice reports whether orders of this type need a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLoss
}

// RequiresTrigger reports whether orders of this type need a trigger price.
func (t OrderType) RequiresTrigger() bool {
	return t == OrderTypeStopLoss || t == OrderTypeStopLossM
}

// ProductType represents the product type of an order.
// Values are passed through to the broker unchanged.
type ProductType string

const (
	ProductDelivery     ProductType = "DELIVERY"
	ProductIntraday     ProductType = "INTRADAY"
	ProductCarryForward ProductType = "CARRYFORWARD"
	ProductMIS          ProductType = "MIS"  // Kite intraday
	ProductCNC          ProductType = "CNC"  // Kite delivery
	ProductNRML         ProductType = "NRML" // Kite F&O normal
)

// Validity values.
const (
	ValidityDay = "DAY"
	ValidityIOC = "IOC"
)

// Variety values.
const (
	VarietyNormal   = "NORMAL"
	VarietyStopLoss = "STOPLOSS"
	VarietyAMO      = "AMO"
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// Funds represents available margin reported by the broker.
type Funds struct {
	AvailableCash float64 `json:"available_cash"`
	UsedMargin    float64 `json:"used_margin"`
	Net           float64 `json:"net"`
}
