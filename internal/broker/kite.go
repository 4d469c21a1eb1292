package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/resilience"
)

// Kite rejects order tags longer than this.
const kiteMaxTagLength = 20

// KiteConfig holds configuration for the Zerodha Kite Connect gateway.
type KiteConfig struct {
	APIKey    string
	APISecret string
	// BaseURI overrides the Kite API root, mostly for tests.
	BaseURI string
	Circuit resilience.CircuitBreakerConfig
}

// KiteGateway implements Gateway and Authenticator for Zerodha Kite Connect.
// Kite clients are cheap and token-bound, so one is built per call.
type KiteGateway struct {
	apiKey    string
	apiSecret string
	baseURI   string
	breaker   *resilience.CircuitBreaker
	logger    zerolog.Logger
	now       func() time.Time
}

// NewKiteGateway creates a Kite gateway.
func NewKiteGateway(cfg KiteConfig, logger zerolog.Logger) *KiteGateway {
	circuit := cfg.Circuit
	if circuit.FailureThreshold == 0 {
		circuit = resilience.DefaultCircuitBreakerConfig()
	}
	return &KiteGateway{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURI:   cfg.BaseURI,
		breaker:   newGatewayBreaker("kite", circuit),
		logger:    logger,
		now:       time.Now,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (k *KiteGateway) Breaker() *resilience.CircuitBreaker {
	return k.breaker
}

// LoginURL returns the Kite login page that yields a request token.
func (k *KiteGateway) LoginURL() string {
	return k.client("").GetLoginURL()
}

func (k *KiteGateway) client(accessToken string) *kiteconnect.Client {
	c := kiteconnect.New(k.apiKey)
	if k.baseURI != "" {
		c.SetBaseURI(k.baseURI)
	}
	if accessToken != "" {
		c.SetAccessToken(accessToken)
	}
	return c
}

// kiteCall runs fn behind the breaker and turns library errors into BrokerErrors.
func kiteCall[T any](ctx context.Context, k *KiteGateway, op string, fn func() (T, error)) (T, error) {
	v, err := resilience.ExecuteWithResult(k.breaker, ctx, func() (T, error) {
		v, err := fn()
		if err != nil {
			return v, kiteError(err)
		}
		return v, nil
	})
	if err != nil {
		k.logger.Warn().Err(err).Str("operation", op).Msg("Kite request failed")
		var be *apperrors.BrokerError
		if apperrors.As(err, &be) {
			return v, err
		}
		if apperrors.Is(err, resilience.ErrCircuitOpen) {
			return v, apperrors.NewBrokerError("CIRCUIT_OPEN", "broker temporarily unavailable", err)
		}
		return v, apperrors.NewBrokerError("TRANSPORT", "", err)
	}
	return v, nil
}

func kiteError(err error) error {
	var kerr kiteconnect.Error
	if apperrors.As(err, &kerr) {
		var sentinel error
		switch kerr.ErrorType {
		case kiteconnect.TokenError:
			sentinel = apperrors.ErrSessionExpired
		case kiteconnect.NetworkError, kiteconnect.GeneralError:
			sentinel = &transportError{status: kerr.Code, err: err}
		}
		return apperrors.NewBrokerError(kerr.ErrorType, kerr.Message, sentinel)
	}
	return apperrors.NewBrokerError("KITE", err.Error(), &transportError{err: err})
}

// Login exchanges an OAuth request token for an access token.
func (k *KiteGateway) Login(ctx context.Context, lr LoginRequest) (*Session, error) {
	if lr.RequestToken == "" {
		return nil, apperrors.NewValidationError("request_token", "", "request token is required, visit "+k.LoginURL())
	}

	session, err := kiteCall(ctx, k, "login", func() (kiteconnect.UserSession, error) {
		return k.client("").GenerateSession(lr.RequestToken, k.apiSecret)
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		ClientCode:   lr.ClientCode,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    SessionExpiry(k.now()),
	}, nil
}

// GetHoldings fetches delivery holdings.
func (k *KiteGateway) GetHoldings(ctx context.Context, cred Credential) ([]HoldingRecord, error) {
	holdings, err := kiteCall(ctx, k, "holdings", func() (kiteconnect.Holdings, error) {
		return k.client(cred.AccessToken).GetHoldings()
	})
	if err != nil {
		return nil, err
	}

	records := make([]HoldingRecord, 0, len(holdings))
	for _, h := range holdings {
		records = append(records, HoldingRecord{
			Symbol:          h.Tradingsymbol,
			Exchange:        h.Exchange,
			InstrumentToken: fmt.Sprint(h.InstrumentToken),
			Quantity:        int64(h.Quantity),
			AveragePrice:    decimal.NewNullDecimal(decimal.NewFromFloat(h.AveragePrice)),
			LTP:             decimal.NewNullDecimal(decimal.NewFromFloat(h.LastPrice)),
			Price:           decimal.NewNullDecimal(decimal.NewFromFloat(h.ClosePrice)),
		})
	}
	return records, nil
}

// GetFunds fetches equity margins.
func (k *KiteGateway) GetFunds(ctx context.Context, cred Credential) (*models.Funds, error) {
	margins, err := kiteCall(ctx, k, "margins", func() (kiteconnect.AllMargins, error) {
		return k.client(cred.AccessToken).GetUserMargins()
	})
	if err != nil {
		return nil, err
	}
	return &models.Funds{
		AvailableCash: margins.Equity.Available.Cash,
		UsedMargin:    margins.Equity.Used.Debits,
		Net:           margins.Equity.Net,
	}, nil
}

// GetLTP fetches the last traded price of one instrument.
func (k *KiteGateway) GetLTP(ctx context.Context, cred Credential, exchange models.Exchange, symbol, instrumentToken string) (float64, error) {
	key := fmt.Sprintf("%s:%s", exchange, symbol)
	quotes, err := kiteCall(ctx, k, "ltp", func() (kiteconnect.QuoteLTP, error) {
		return k.client(cred.AccessToken).GetLTP(key)
	})
	if err != nil {
		return 0, err
	}
	q, ok := quotes[key]
	if !ok {
		return 0, apperrors.NewBrokerError("NO_LTP", "no price for "+key, nil)
	}
	return q.LastPrice, nil
}

// GetOrderBook fetches the day's orders.
func (k *KiteGateway) GetOrderBook(ctx context.Context, cred Credential) ([]OrderRecord, error) {
	orders, err := kiteCall(ctx, k, "orders", func() (kiteconnect.Orders, error) {
		return k.client(cred.AccessToken).GetOrders()
	})
	if err != nil {
		return nil, err
	}

	records := make([]OrderRecord, 0, len(orders))
	for _, o := range orders {
		rec := OrderRecord{
			OrderID:         o.OrderID,
			TradingSymbol:   o.TradingSymbol,
			Exchange:        o.Exchange,
			SymbolToken:     fmt.Sprint(o.InstrumentToken),
			OrderType:       o.OrderType,
			TransactionType: o.TransactionType,
			ProductType:     o.Product,
			Quantity:        decimal.NewFromFloat(float64(o.Quantity)),
			Price:           decimal.NewNullDecimal(decimal.NewFromFloat(o.Price)),
			TriggerPrice:    decimal.NewNullDecimal(decimal.NewFromFloat(o.TriggerPrice)),
			Status:          o.Status,
			Text:            o.StatusMessage,
			FilledShares:    decimal.NewNullDecimal(decimal.NewFromFloat(float64(o.FilledQuantity))),
			AveragePrice:    decimal.NewNullDecimal(decimal.NewFromFloat(o.AveragePrice)),
			ExchOrderID:     o.ExchangeOrderID,
			Variety:         localVariety(o.Variety),
			Duration:        o.Validity,
		}
		if !o.OrderTimestamp.Time.IsZero() {
			rec.OrderTime = o.OrderTimestamp.Time.Format(time.RFC3339)
		}
		if !o.ExchangeUpdateTimestamp.Time.IsZero() {
			rec.UpdateTime = o.ExchangeUpdateTimestamp.Time.Format(time.RFC3339)
		}
		records = append(records, rec)
	}
	return records, nil
}

// PlaceOrder places a new order.
func (k *KiteGateway) PlaceOrder(ctx context.Context, cred Credential, req *OrderRequest) (*OrderResult, error) {
	params := kiteOrderParams(req)
	params.Tag = truncate(req.Tag, kiteMaxTagLength)

	resp, err := kiteCall(ctx, k, "place", func() (kiteconnect.OrderResponse, error) {
		return k.client(cred.AccessToken).PlaceOrder(kiteVariety(req.Variety), params)
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: resp.OrderID, Status: "PLACED", Message: "Order placed successfully"}, nil
}

// ModifyOrder modifies an open order.
func (k *KiteGateway) ModifyOrder(ctx context.Context, cred Credential, brokerOrderID string, req *OrderRequest) (*OrderResult, error) {
	params := kiteOrderParams(req)
	_, err := kiteCall(ctx, k, "modify", func() (kiteconnect.OrderResponse, error) {
		return k.client(cred.AccessToken).ModifyOrder(kiteVariety(req.Variety), brokerOrderID, params)
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: brokerOrderID, Status: "MODIFIED", Message: "Order modified successfully"}, nil
}

// CancelOrder cancels an open order.
func (k *KiteGateway) CancelOrder(ctx context.Context, cred Credential, variety, brokerOrderID string) (*OrderResult, error) {
	_, err := kiteCall(ctx, k, "cancel", func() (kiteconnect.OrderResponse, error) {
		return k.client(cred.AccessToken).CancelOrder(kiteVariety(variety), brokerOrderID, nil)
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: brokerOrderID, Status: "CANCELLED", Message: "Order cancelled successfully"}, nil
}

func kiteOrderParams(req *OrderRequest) kiteconnect.OrderParams {
	validity := req.Validity
	if validity == "" {
		validity = models.ValidityDay
	}
	return kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.TransactionType),
		OrderType:       string(req.OrderType),
		Product:         KiteProductType(req.ProductType),
		Quantity:        int(req.Quantity),
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Validity:        validity,
	}
}

// KiteProductType maps SmartAPI-style product names onto Kite's.
func KiteProductType(p models.ProductType) string {
	switch p {
	case models.ProductDelivery, "":
		return string(models.ProductCNC)
	case models.ProductIntraday:
		return string(models.ProductMIS)
	case models.ProductCarryForward:
		return string(models.ProductNRML)
	}
	return string(p)
}

func kiteVariety(v string) string {
	if strings.EqualFold(v, models.VarietyAMO) {
		return kiteconnect.VarietyAMO
	}
	return kiteconnect.VarietyRegular
}

func localVariety(v string) string {
	if strings.EqualFold(v, kiteconnect.VarietyAMO) {
		return models.VarietyAMO
	}
	return models.VarietyNormal
}
