package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/logging"
	"brokerdash/internal/models"
	"brokerdash/internal/resilience"
	"brokerdash/pkg/utils"
)

const (
	SmartAPIDefaultBaseURL   = "https://apiconnect.angelbroking.com"
	SmartAPIDefaultTimeout   = 15 * time.Second
	SmartAPIDefaultRateLimit = 3 // requests per second
)

// SmartAPI endpoints.
const (
	smartLoginPath     = "/rest/auth/angelbroking/user/v1/loginByPassword"
	smartHoldingsPath  = "/rest/secure/angelbroking/portfolio/v1/getHolding"
	smartOrderBookPath = "/rest/secure/angelbroking/order/v1/getOrderBook"
	smartLTPPath       = "/rest/secure/angelbroking/order/v1/getLtpData"
	smartPlacePath     = "/rest/secure/angelbroking/order/v1/placeOrder"
	smartModifyPath    = "/rest/secure/angelbroking/order/v1/modifyOrder"
	smartCancelPath    = "/rest/secure/angelbroking/order/v1/cancelOrder"
	smartRMSPath       = "/rest/secure/angelbroking/user/v1/getRMS"
)

// SmartAPI error codes with a local meaning.
const (
	smartCodeInvalidToken = "AG8001"
	smartCodeTokenExpired = "AG8002"
	smartCodeRateLimited  = "AB1019"
)

// SmartAPIClient talks to Angel One SmartAPI. It implements Gateway and Authenticator.
type SmartAPIClient struct {
	baseURL    string
	apiKey     string
	localIP    string
	publicIP   string
	macAddress string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	retry      utils.RetryConfig
	logger     zerolog.Logger
	now        func() time.Time
}

// SmartAPIOption configures the client.
type SmartAPIOption func(*SmartAPIClient)

// WithBaseURL sets the base URL.
func WithBaseURL(baseURL string) SmartAPIOption {
	return func(c *SmartAPIClient) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) SmartAPIOption {
	return func(c *SmartAPIClient) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) SmartAPIOption {
	return func(c *SmartAPIClient) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit sets the request rate. Zero disables limiting.
func WithRateLimit(requestsPerSecond int) SmartAPIOption {
	return func(c *SmartAPIClient) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithRetry sets the transport retry policy.
func WithRetry(cfg utils.RetryConfig) SmartAPIOption {
	return func(c *SmartAPIClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker sets the breaker configuration.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) SmartAPIOption {
	return func(c *SmartAPIClient) {
		c.breaker = newGatewayBreaker("smartapi", cfg)
	}
}

// WithClientIdentity sets the network identity headers SmartAPI requires.
func WithClientIdentity(localIP, publicIP, macAddress string) SmartAPIOption {
	return func(c *SmartAPIClient) {
		c.localIP = localIP
		c.publicIP = publicIP
		c.macAddress = macAddress
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) SmartAPIOption {
	return func(c *SmartAPIClient) {
		c.logger = logger
	}
}

// NewSmartAPIClient creates a SmartAPI client for the given API key.
func NewSmartAPIClient(apiKey string, opts ...SmartAPIOption) *SmartAPIClient {
	c := &SmartAPIClient{
		baseURL:    SmartAPIDefaultBaseURL,
		apiKey:     apiKey,
		localIP:    "127.0.0.1",
		publicIP:   "127.0.0.1",
		macAddress: "00:00:00:00:00:00",
		httpClient: &http.Client{Timeout: SmartAPIDefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(SmartAPIDefaultRateLimit), SmartAPIDefaultRateLimit),
		breaker:    newGatewayBreaker("smartapi", resilience.DefaultCircuitBreakerConfig()),
		retry:      transportRetryConfig(utils.DefaultRetryConfig()),
		logger:     zerolog.Nop(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.retry = transportRetryConfig(c.retry)

	return c
}

// Breaker exposes the circuit breaker for health reporting.
func (c *SmartAPIClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// envelope is the response wrapper used by every SmartAPI endpoint.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// transportError marks failures worth retrying: connection errors, 5xx and 429.
type transportError struct {
	status int
	err    error
}

func (e *transportError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("http %d: %v", e.status, e.err)
	}
	return e.err.Error()
}

func (e *transportError) Unwrap() error { return e.err }

func transportRetryConfig(cfg utils.RetryConfig) utils.RetryConfig {
	cfg.Retryable = func(err error) bool {
		var te *transportError
		return apperrors.As(err, &te)
	}
	return cfg
}

func newGatewayBreaker(name string, cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	// Broker-side rejections are answers, not outages.
	cfg.IsFailure = func(err error) bool {
		var be *apperrors.BrokerError
		if apperrors.As(err, &be) {
			var te *transportError
			return apperrors.As(be.Err, &te)
		}
		return true
	}
	return resilience.NewCircuitBreaker(name, cfg)
}

// call performs a SmartAPI request, retrying transport failures, and decodes
// the envelope's data into out. Every failure comes back as a *BrokerError.
func (c *SmartAPIClient) call(ctx context.Context, method, path, accessToken string, body, out interface{}) error {
	return c.send(ctx, c.retry, method, path, accessToken, body, out)
}

// callOnce is call without retries. Order writes go through it: a request
// that failed in transit may still have reached the exchange.
func (c *SmartAPIClient) callOnce(ctx context.Context, method, path, accessToken string, body, out interface{}) error {
	once := c.retry
	once.MaxAttempts = 1
	return c.send(ctx, once, method, path, accessToken, body, out)
}

func (c *SmartAPIClient) send(ctx context.Context, retry utils.RetryConfig, method, path, accessToken string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	env, err := resilience.ExecuteWithResult(c.breaker, ctx, func() (*envelope, error) {
		return utils.RetryWithResult(ctx, retry, func() (*envelope, error) {
			return c.do(ctx, method, path, accessToken, payload)
		})
	})
	if err != nil {
		var be *apperrors.BrokerError
		if apperrors.As(err, &be) {
			return err
		}
		if apperrors.Is(err, resilience.ErrCircuitOpen) {
			return apperrors.NewBrokerError("CIRCUIT_OPEN", "broker temporarily unavailable", err)
		}
		var te *transportError
		if apperrors.As(err, &te) && te.status == http.StatusTooManyRequests {
			return apperrors.NewBrokerError("HTTP_429", "", apperrors.Wrap(apperrors.ErrRateLimited, err.Error()))
		}
		return apperrors.NewBrokerError("TRANSPORT", "", err)
	}

	if !env.Status {
		c.logger.Warn().
			Str("endpoint", path).
			Str("errorcode", env.ErrorCode).
			Str("message", env.Message).
			Msg("SmartAPI request failed")
		return apperrors.NewBrokerError(env.ErrorCode, env.Message, codeSentinel(env.ErrorCode))
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.NewBrokerError("DECODE", "", fmt.Errorf("failed to decode %s response: %w", path, err))
	}
	return nil
}

func codeSentinel(code string) error {
	switch code {
	case smartCodeInvalidToken, smartCodeTokenExpired:
		return apperrors.ErrSessionExpired
	case smartCodeRateLimited:
		return apperrors.ErrRateLimited
	}
	return nil
}

func (c *SmartAPIClient) do(ctx context.Context, method, path, accessToken string, payload []byte) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", c.localIP)
	req.Header.Set("X-ClientPublicIP", c.publicIP)
	req.Header.Set("X-MACAddress", c.macAddress)
	req.Header.Set("X-PrivateKey", c.apiKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.LogAPICall(c.logger, method, path, c.now().Sub(start), err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	logging.LogAPICall(c.logger.With().Int("status", resp.StatusCode).Logger(), method, path, c.now().Sub(start), nil)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{status: resp.StatusCode, err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &transportError{status: resp.StatusCode, err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &envelope{Message: http.StatusText(resp.StatusCode), ErrorCode: "HTTP_" + strconv.Itoa(resp.StatusCode)}, nil
		}
		return nil, apperrors.NewBrokerError("DECODE", "", fmt.Errorf("failed to decode response: %w", err))
	}
	return &env, nil
}

// Login performs password + TOTP login. TOTP may be a 6-digit code or the
// base32 secret, in which case the current code is generated locally.
func (c *SmartAPIClient) Login(ctx context.Context, lr LoginRequest) (*Session, error) {
	if lr.ClientCode == "" || lr.Password == "" {
		return nil, apperrors.NewValidationError("client_code", lr.ClientCode, "client code and password are required")
	}

	code, err := totpCode(lr.TOTP, c.now())
	if err != nil {
		return nil, err
	}

	body := map[string]string{
		"clientcode": lr.ClientCode,
		"password":   lr.Password,
		"totp":       code,
	}
	var data struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	if err := c.call(ctx, http.MethodPost, smartLoginPath, "", body, &data); err != nil {
		return nil, err
	}
	if data.JWTToken == "" {
		return nil, apperrors.NewBrokerError("LOGIN", "login response carried no token", nil)
	}

	c.logger.Info().Str("client_code", lr.ClientCode).Msg("SmartAPI session established")

	return &Session{
		ClientCode:   lr.ClientCode,
		AccessToken:  strings.TrimPrefix(data.JWTToken, "Bearer "),
		RefreshToken: data.RefreshToken,
		FeedToken:    data.FeedToken,
		ExpiresAt:    SessionExpiry(c.now()),
	}, nil
}

func totpCode(value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperrors.NewValidationError("totp", "", "totp is required")
	}
	if len(value) == 6 {
		if _, err := strconv.Atoi(value); err == nil {
			return value, nil
		}
	}
	code, err := totp.GenerateCode(strings.ToUpper(value), now)
	if err != nil {
		return "", apperrors.NewValidationError("totp", "", "totp secret is not valid base32")
	}
	return code, nil
}

type smartHolding struct {
	TradingSymbol string              `json:"tradingsymbol"`
	Exchange      string              `json:"exchange"`
	SymbolToken   string              `json:"symboltoken"`
	Quantity      decimal.Decimal     `json:"quantity"`
	AveragePrice  decimal.NullDecimal `json:"averageprice"`
	LTP           decimal.NullDecimal `json:"ltp"`
	Close         decimal.NullDecimal `json:"close"`
}

// GetHoldings fetches delivery holdings.
func (c *SmartAPIClient) GetHoldings(ctx context.Context, cred Credential) ([]HoldingRecord, error) {
	var data []smartHolding
	if err := c.call(ctx, http.MethodGet, smartHoldingsPath, cred.AccessToken, nil, &data); err != nil {
		return nil, err
	}

	records := make([]HoldingRecord, 0, len(data))
	for _, h := range data {
		records = append(records, HoldingRecord{
			Symbol:          h.TradingSymbol,
			Exchange:        h.Exchange,
			InstrumentToken: h.SymbolToken,
			Quantity:        h.Quantity.IntPart(),
			AveragePrice:    h.AveragePrice,
			LTP:             h.LTP,
			Price:           h.Close,
		})
	}
	return records, nil
}

// GetFunds fetches the RMS limits of the account.
func (c *SmartAPIClient) GetFunds(ctx context.Context, cred Credential) (*models.Funds, error) {
	var data struct {
		Net            decimal.NullDecimal `json:"net"`
		AvailableCash  decimal.NullDecimal `json:"availablecash"`
		UtilisedDebits decimal.NullDecimal `json:"utiliseddebits"`
	}
	if err := c.call(ctx, http.MethodGet, smartRMSPath, cred.AccessToken, nil, &data); err != nil {
		return nil, err
	}
	return &models.Funds{
		AvailableCash: firstValid(data.AvailableCash),
		UsedMargin:    firstValid(data.UtilisedDebits),
		Net:           firstValid(data.Net),
	}, nil
}

// GetLTP fetches the last traded price of one instrument.
func (c *SmartAPIClient) GetLTP(ctx context.Context, cred Credential, exchange models.Exchange, symbol, instrumentToken string) (float64, error) {
	body := map[string]string{
		"exchange":      string(exchange),
		"tradingsymbol": symbol,
		"symboltoken":   instrumentToken,
	}
	var data struct {
		LTP decimal.NullDecimal `json:"ltp"`
	}
	if err := c.call(ctx, http.MethodPost, smartLTPPath, cred.AccessToken, body, &data); err != nil {
		return 0, err
	}
	if !data.LTP.Valid {
		return 0, apperrors.NewBrokerError("NO_LTP", fmt.Sprintf("no price for %s:%s", exchange, symbol), nil)
	}
	return data.LTP.Decimal.InexactFloat64(), nil
}

// GetOrderBook fetches the day's order book.
func (c *SmartAPIClient) GetOrderBook(ctx context.Context, cred Credential) ([]OrderRecord, error) {
	var data []OrderRecord
	if err := c.call(ctx, http.MethodGet, smartOrderBookPath, cred.AccessToken, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

type smartOrderResponse struct {
	OrderID       string `json:"orderid"`
	UniqueOrderID string `json:"uniqueorderid"`
}

// PlaceOrder places a new order.
func (c *SmartAPIClient) PlaceOrder(ctx context.Context, cred Credential, req *OrderRequest) (*OrderResult, error) {
	body := smartOrderBody(req)
	if req.Tag != "" {
		body["ordertag"] = truncate(req.Tag, 20)
	}

	var data smartOrderResponse
	if err := c.callOnce(ctx, http.MethodPost, smartPlacePath, cred.AccessToken, body, &data); err != nil {
		return nil, err
	}
	if data.OrderID == "" {
		return nil, apperrors.NewBrokerError("NO_ORDER_ID", "order acknowledged without an order id", nil)
	}
	return &OrderResult{OrderID: data.OrderID, Status: "PLACED", Message: "Order placed successfully"}, nil
}

// ModifyOrder modifies an open order.
func (c *SmartAPIClient) ModifyOrder(ctx context.Context, cred Credential, brokerOrderID string, req *OrderRequest) (*OrderResult, error) {
	body := smartOrderBody(req)
	body["orderid"] = brokerOrderID

	var data smartOrderResponse
	if err := c.callOnce(ctx, http.MethodPost, smartModifyPath, cred.AccessToken, body, &data); err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: brokerOrderID, Status: "MODIFIED", Message: "Order modified successfully"}, nil
}

// CancelOrder cancels an open order.
func (c *SmartAPIClient) CancelOrder(ctx context.Context, cred Credential, variety, brokerOrderID string) (*OrderResult, error) {
	if variety == "" {
		variety = models.VarietyNormal
	}
	body := map[string]string{
		"variety": variety,
		"orderid": brokerOrderID,
	}
	var data smartOrderResponse
	if err := c.callOnce(ctx, http.MethodPost, smartCancelPath, cred.AccessToken, body, &data); err != nil {
		return nil, err
	}
	return &OrderResult{OrderID: brokerOrderID, Status: "CANCELLED", Message: "Order cancelled successfully"}, nil
}

func smartOrderBody(req *OrderRequest) map[string]string {
	variety := req.Variety
	if variety == "" {
		variety = models.VarietyNormal
	}
	// SmartAPI only accepts stop-loss order types under the STOPLOSS variety.
	if variety == models.VarietyNormal && req.OrderType.RequiresTrigger() {
		variety = models.VarietyStopLoss
	}
	duration := req.Validity
	if duration == "" {
		duration = models.ValidityDay
	}

	return map[string]string{
		"variety":         variety,
		"tradingsymbol":   req.Symbol,
		"symboltoken":     req.InstrumentToken,
		"transactiontype": string(req.TransactionType),
		"exchange":        string(req.Exchange),
		"ordertype":       SmartOrderType(req.OrderType),
		"producttype":     SmartProductType(req.ProductType),
		"duration":        duration,
		"price":           strconv.FormatFloat(req.Price, 'f', -1, 64),
		"triggerprice":    strconv.FormatFloat(req.TriggerPrice, 'f', -1, 64),
		"squareoff":       "0",
		"stoploss":        "0",
		"quantity":        strconv.FormatInt(req.Quantity, 10),
	}
}

// SmartOrderType maps a local order type to SmartAPI's naming.
func SmartOrderType(t models.OrderType) string {
	switch t {
	case models.OrderTypeStopLoss:
		return "STOPLOSS_LIMIT"
	case models.OrderTypeStopLossM:
		return "STOPLOSS_MARKET"
	}
	return string(t)
}

// SmartProductType maps Kite-style product codes onto SmartAPI's.
func SmartProductType(p models.ProductType) string {
	switch p {
	case models.ProductCNC:
		return string(models.ProductDelivery)
	case models.ProductMIS:
		return string(models.ProductIntraday)
	case models.ProductNRML:
		return string(models.ProductCarryForward)
	case "":
		return string(models.ProductDelivery)
	}
	return string(p)
}

// ParseOrderType accepts both SmartAPI and Kite order type names.
func ParseOrderType(s string) models.OrderType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STOPLOSS_LIMIT", "SL":
		return models.OrderTypeStopLoss
	case "STOPLOSS_MARKET", "SL-M":
		return models.OrderTypeStopLossM
	case "LIMIT":
		return models.OrderTypeLimit
	}
	return models.OrderTypeMarket
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
