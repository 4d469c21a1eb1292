// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"brokerdash/internal/models"
	"brokerdash/pkg/utils"
)

// Credential is a user's authenticated broker session, passed on every call.
type Credential struct {
	ClientCode  string
	AccessToken string
}

// Gateway defines the authenticated calls made against a remote brokerage API.
// Implementations return *errors.BrokerError when the broker reports failure.
type Gateway interface {
	// Portfolio
	GetHoldings(ctx context.Context, cred Credential) ([]HoldingRecord, error)
	GetFunds(ctx context.Context, cred Credential) (*models.Funds, error)

	// Market data
	GetLTP(ctx context.Context, cred Credential, exchange models.Exchange, symbol, instrumentToken string) (float64, error)

	// Orders
	GetOrderBook(ctx context.Context, cred Credential) ([]OrderRecord, error)
	PlaceOrder(ctx context.Context, cred Credential, req *OrderRequest) (*OrderResult, error)
	ModifyOrder(ctx context.Context, cred Credential, brokerOrderID string, req *OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, cred Credential, variety, brokerOrderID string) (*OrderResult, error)
}

// Authenticator exchanges user login material for a broker session.
type Authenticator interface {
	Login(ctx context.Context, req LoginRequest) (*Session, error)
}

// LoginRequest carries whatever login material the broker needs. SmartAPI
// uses ClientCode, Password and TOTP; Kite uses the OAuth RequestToken.
type LoginRequest struct {
	ClientCode   string
	Password     string
	TOTP         string
	RequestToken string
}

// Session is the result of a broker login.
type Session struct {
	ClientCode   string
	AccessToken  string
	RefreshToken string
	FeedToken    string
	ExpiresAt    time.Time
}

// SessionExpiry returns when a token issued at now stops working.
// Indian brokers invalidate sessions at 6 AM IST the next day.
func SessionExpiry(now time.Time) time.Time {
	ist := now.In(utils.IndiaLocation)
	expiry := time.Date(ist.Year(), ist.Month(), ist.Day(), 6, 0, 0, 0, utils.IndiaLocation)
	if !ist.Before(expiry) {
		expiry = expiry.AddDate(0, 0, 1)
	}
	return expiry
}

// OrderRequest is the broker-facing payload for placing or modifying an order.
type OrderRequest struct {
	Symbol          string
	Exchange        models.Exchange
	InstrumentToken string
	OrderType       models.OrderType
	TransactionType models.TransactionType
	ProductType     models.ProductType
	Quantity        int64
	Price           float64
	TriggerPrice    float64
	Validity        string
	Variety         string
	Tag             string
}

// OrderRequestFromOrder builds the broker payload for a local order.
func OrderRequestFromOrder(o *models.Order) *OrderRequest {
	req := &OrderRequest{
		Symbol:          o.Symbol,
		Exchange:        o.Exchange,
		InstrumentToken: o.InstrumentToken,
		OrderType:       o.OrderType,
		TransactionType: o.TransactionType,
		ProductType:     o.ProductType,
		Quantity:        o.Quantity,
		Validity:        o.Validity,
		Variety:         o.Variety,
		Tag:             o.ID,
	}
	if o.Price != nil {
		req.Price = *o.Price
	}
	if o.TriggerPrice != nil {
		req.TriggerPrice = *o.TriggerPrice
	}
	if req.Validity == "" {
		req.Validity = models.ValidityDay
	}
	if req.Variety == "" {
		req.Variety = models.VarietyNormal
	}
	return req
}

// OrderResult represents the broker's acknowledgement of an order action.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}
