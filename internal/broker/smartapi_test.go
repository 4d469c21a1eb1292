package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/resilience"
	"brokerdash/pkg/utils"
)

var testCred = Credential{ClientCode: "A123", AccessToken: "jwt-token"}

func newTestSmartAPI(t *testing.T, handler http.HandlerFunc, opts ...SmartAPIOption) *SmartAPIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := []SmartAPIOption{
		WithBaseURL(srv.URL),
		WithRateLimit(0),
		WithRetry(utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2,
		}),
	}
	return NewSmartAPIClient("api-key", append(base, opts...)...)
}

func writeEnvelope(w http.ResponseWriter, status bool, message, code string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"message":   message,
		"errorcode": code,
		"data":      data,
	})
}

func TestSmartAPIGetHoldings(t *testing.T) {
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, smartHoldingsPath, r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("X-PrivateKey"))
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		assert.Equal(t, "USER", r.Header.Get("X-UserType"))

		writeEnvelope(w, true, "SUCCESS", "", []map[string]interface{}{
			{"tradingsymbol": "INFY-EQ", "exchange": "NSE", "symboltoken": "1594", "quantity": 10, "averageprice": 1400.5, "ltp": 1500, "close": 1490},
			{"tradingsymbol": "SBIN-EQ", "exchange": "NSE", "symboltoken": "3045", "quantity": "0", "averageprice": "600"},
		})
	})

	records, err := client.GetHoldings(context.Background(), testCred)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "INFY-EQ", records[0].Symbol)
	assert.Equal(t, "1594", records[0].InstrumentToken)
	assert.Equal(t, int64(10), records[0].Quantity)
	assert.Equal(t, 1400.5, records[0].AvgPrice())
	assert.Equal(t, 1500.0, records[0].CurrentPrice())

	assert.Equal(t, int64(0), records[1].Quantity)
	assert.Equal(t, 600.0, records[1].AvgPrice())
	assert.Zero(t, records[1].CurrentPrice(), "no ltp or close means no current price")
}

func TestSmartAPIFailureEnvelope(t *testing.T) {
	var calls int32
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, false, "Invalid Token", "AG8001", nil)
	})

	_, err := client.GetOrderBook(context.Background(), testCred)
	require.Error(t, err)

	var be *apperrors.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "AG8001", be.Code)
	assert.Equal(t, "Invalid Token", be.Message)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "broker rejections are not retried")
	assert.Equal(t, resilience.CircuitClosed, client.Breaker().State())
}

func TestSmartAPIEmptyMessageFallsBack(t *testing.T) {
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, false, "", "AB1004", nil)
	})

	_, err := client.GetHoldings(context.Background(), testCred)
	assert.Equal(t, apperrors.DefaultBrokerMessage, apperrors.BrokerMessage(err))
}

func TestSmartAPIRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, true, "SUCCESS", "", map[string]interface{}{"ltp": "1520.35"})
	})

	ltp, err := client.GetLTP(context.Background(), testCred, models.NSE, "INFY-EQ", "1594")
	require.NoError(t, err)
	assert.Equal(t, 1520.35, ltp)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSmartAPIGivesUpAfterRetries(t *testing.T) {
	var calls int32
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetHoldings(context.Background(), testCred)
	var be *apperrors.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "TRANSPORT", be.Code)
	assert.Equal(t, apperrors.DefaultBrokerMessage, be.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSmartAPICircuitOpens(t *testing.T) {
	var calls int32
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	},
		WithRetry(utils.RetryConfig{MaxAttempts: 1}),
		WithCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour}),
	)

	_, err := client.GetHoldings(context.Background(), testCred)
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, client.Breaker().State())

	_, err = client.GetHoldings(context.Background(), testCred)
	var be *apperrors.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "CIRCUIT_OPEN", be.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "open circuit must not reach the broker")
}

func TestSmartAPIPlaceOrder(t *testing.T) {
	var body map[string]string
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, smartPlacePath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEnvelope(w, true, "SUCCESS", "", map[string]string{"orderid": "201020000000080", "uniqueorderid": "u-1"})
	})

	res, err := client.PlaceOrder(context.Background(), testCred, &OrderRequest{
		Symbol:          "SBIN-EQ",
		Exchange:        models.NSE,
		InstrumentToken: "3045",
		OrderType:       models.OrderTypeStopLoss,
		TransactionType: models.Sell,
		ProductType:     models.ProductCNC,
		Quantity:        5,
		Price:           590,
		TriggerPrice:    591.5,
		Variety:         models.VarietyNormal,
		Tag:             "0b6d1f4e-7c1a-4d2e-9f3a-1234567890ab",
	})
	require.NoError(t, err)
	assert.Equal(t, "201020000000080", res.OrderID)

	assert.Equal(t, "STOPLOSS", body["variety"])
	assert.Equal(t, "STOPLOSS_LIMIT", body["ordertype"])
	assert.Equal(t, "DELIVERY", body["producttype"])
	assert.Equal(t, "591.5", body["triggerprice"])
	assert.Equal(t, "5", body["quantity"])
	assert.Len(t, body["ordertag"], 20)
}

func TestSmartAPILoginWithTOTPSecret(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	fixed := time.Date(2026, time.October, 5, 8, 0, 0, 0, time.UTC)
	want, err := totp.GenerateCode(secret, fixed)
	require.NoError(t, err)

	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, smartLoginPath, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "A123", body["clientcode"])
		assert.Equal(t, want, body["totp"])

		writeEnvelope(w, true, "SUCCESS", "", map[string]string{
			"jwtToken":     "Bearer eyJhbGciOi",
			"refreshToken": "refresh",
			"feedToken":    "feed",
		})
	})
	client.now = func() time.Time { return fixed }

	session, err := client.Login(context.Background(), LoginRequest{ClientCode: "A123", Password: "1111", TOTP: secret})
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOi", session.AccessToken)
	assert.Equal(t, "feed", session.FeedToken)
	assert.True(t, session.ExpiresAt.After(fixed))
}

func TestSmartAPILoginRequiresTOTP(t *testing.T) {
	client := NewSmartAPIClient("api-key")
	_, err := client.Login(context.Background(), LoginRequest{ClientCode: "A123", Password: "1111"})

	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "totp", ve.Field)
}

func TestSmartAPIGetFunds(t *testing.T) {
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, smartRMSPath, r.URL.Path)
		writeEnvelope(w, true, "SUCCESS", "", map[string]string{
			"net":            "25000.00",
			"availablecash":  "20000.50",
			"utiliseddebits": "4999.50",
		})
	})

	funds, err := client.GetFunds(context.Background(), testCred)
	require.NoError(t, err)
	assert.Equal(t, 20000.5, funds.AvailableCash)
	assert.Equal(t, 4999.5, funds.UsedMargin)
	assert.Equal(t, 25000.0, funds.Net)
}

func TestSmartAPIOrderWritesAreNotRetried(t *testing.T) {
	var calls int32
	client := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, true, "SUCCESS", "", map[string]string{"orderid": "B2"})
	})
	ctx := context.Background()

	_, err := client.PlaceOrder(ctx, testCred, &OrderRequest{
		Symbol:          "INFY-EQ",
		Exchange:        models.NSE,
		InstrumentToken: "1594",
		OrderType:       models.OrderTypeMarket,
		TransactionType: models.Buy,
		Quantity:        1,
	})
	var be *apperrors.BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "TRANSPORT", be.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a failed placement must not be sent twice")

	atomic.StoreInt32(&calls, 0)
	_, err = client.CancelOrder(ctx, testCred, "", "B1")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	_, err = client.ModifyOrder(ctx, testCred, "B1", &OrderRequest{Symbol: "INFY-EQ", Exchange: models.NSE, OrderType: models.OrderTypeMarket, TransactionType: models.Buy, Quantity: 2})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
