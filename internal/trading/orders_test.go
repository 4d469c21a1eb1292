package trading

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdash/internal/broker"
	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/store"
)

func limitBuy(symbol string, qty int64, price float64) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		Symbol:          symbol,
		Exchange:        models.NSE,
		InstrumentToken: symbol + "-EQ",
		OrderType:       models.OrderTypeLimit,
		TransactionType: models.Buy,
		Quantity:        qty,
		Price:           models.Float64(price),
	}
}

// observingGateway records the stored order status seen when PlaceOrder runs.
type observingGateway struct {
	broker.Gateway
	orders     store.OrderStore
	seenStatus []models.OrderStatus
}

func (g *observingGateway) PlaceOrder(ctx context.Context, cred broker.Credential, req *broker.OrderRequest) (*broker.OrderResult, error) {
	if o, err := g.orders.GetOrder(ctx, testUser, req.Tag); err == nil {
		g.seenStatus = append(g.seenStatus, o.Status)
	}
	return g.Gateway.PlaceOrder(ctx, cred, req)
}

func TestPlaceOrderRecordsPendingBeforeBrokerCall(t *testing.T) {
	var observer *observingGateway
	f := newFixtureWithGateway(t, Config{}, func(p *broker.PaperGateway, st store.Store) broker.Gateway {
		observer = &observingGateway{Gateway: p, orders: st}
		return observer
	})
	ctx := context.Background()

	order, err := f.orders.PlaceOrder(ctx, testUser, limitBuy("infy", 10, 1450))
	require.NoError(t, err)

	assert.Equal(t, []models.OrderStatus{models.OrderPending}, observer.seenStatus)
	assert.Equal(t, models.OrderOpen, order.Status)
	assert.Equal(t, "PAPER-000001", order.BrokerOrderID)
	assert.Equal(t, "INFY", order.Symbol)
	assert.Equal(t, models.ProductDelivery, order.ProductType)
	assert.Equal(t, models.SourceUser, order.Source)

	stored, err := f.store.GetOrder(ctx, testUser, "PAPER-000001")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
	assert.Equal(t, models.OrderOpen, stored.Status)
}

func TestPlaceOrderRejectedByBroker(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.gw.FailOn(broker.PaperOpPlace, apperrors.NewBrokerError("AB4008", "Insufficient funds", nil))

	order, err := f.orders.PlaceOrder(ctx, testUser, limitBuy("TCS", 5, 3800))
	require.Error(t, err)

	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
	var be *apperrors.BrokerError
	require.True(t, apperrors.As(err, &be), "broker error must reach the caller")
	assert.Equal(t, "AB4008", be.Code)

	require.NotNil(t, order)
	assert.Equal(t, models.OrderRejected, order.Status)
	assert.Equal(t, "Insufficient funds", order.StatusMessage)

	stored, err := f.store.GetOrder(ctx, testUser, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderRejected, stored.Status)
	assert.Equal(t, "Insufficient funds", stored.StatusMessage)
	assert.Empty(t, stored.BrokerOrderID)
}

func TestPlaceOrderTransportFailureUsesDefaultMessage(t *testing.T) {
	f := newFixture(t, Config{})
	f.gw.FailOn(broker.PaperOpPlace, apperrors.NewBrokerError("TRANSPORT", "", nil))

	order, err := f.orders.PlaceOrder(context.Background(), testUser, limitBuy("TCS", 5, 3800))
	require.Error(t, err)
	assert.Equal(t, apperrors.DefaultBrokerMessage, order.StatusMessage)
}

func TestPlaceOrderInvalidNeverReachesBroker(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	req := limitBuy("INFY", 10, 0)
	req.Price = nil
	_, err := f.orders.PlaceOrder(ctx, testUser, req)

	var ve *apperrors.ValidationError
	require.True(t, apperrors.As(err, &ve))
	assert.Equal(t, "price", ve.Field)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrder)
	assert.Equal(t, 0, f.gw.Calls(broker.PaperOpPlace))

	orders, err := f.store.ListOrders(ctx, testUser, store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrderWithoutLinkedBroker(t *testing.T) {
	f := newFixture(t, Config{})
	f.orders.creds = CredentialFunc(func(ctx context.Context, userID string) (broker.Credential, error) {
		return broker.Credential{}, apperrors.ErrBrokerNotLinked
	})

	_, err := f.orders.PlaceOrder(context.Background(), testUser, limitBuy("INFY", 1, 100))
	assert.ErrorIs(t, err, apperrors.ErrBrokerNotLinked)
	assert.Equal(t, 0, f.gw.Calls(broker.PaperOpPlace))
}

func TestModifyOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	placed, err := f.orders.PlaceOrder(ctx, testUser, limitBuy("INFY", 10, 1450))
	require.NoError(t, err)

	modified, err := f.orders.ModifyOrder(ctx, testUser, placed.ID, &ModifyOrderRequest{Quantity: 20, Price: models.Float64(1440)})
	require.NoError(t, err)
	assert.Equal(t, models.OrderModified, modified.Status)
	assert.Equal(t, int64(20), modified.Quantity)
	assert.Equal(t, 1440.0, *modified.Price)

	book, err := f.gw.GetOrderBook(ctx, testCred)
	require.NoError(t, err)
	require.Len(t, book, 1)
	assert.True(t, book[0].Quantity.Equal(decimal.NewFromInt(20)))
}

func TestModifyOrderToMarketDropsPrices(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	req := limitBuy("INFY", 10, 1450)
	req.OrderType = models.OrderTypeStopLoss
	req.TriggerPrice = models.Float64(1455)
	placed, err := f.orders.PlaceOrder(ctx, testUser, req)
	require.NoError(t, err)

	modified, err := f.orders.ModifyOrder(ctx, testUser, placed.ID, &ModifyOrderRequest{OrderType: models.OrderTypeMarket})
	require.NoError(t, err)
	assert.Equal(t, models.OrderTypeMarket, modified.OrderType)
	assert.Nil(t, modified.Price)
	assert.Nil(t, modified.TriggerPrice)

	book, err := f.gw.GetOrderBook(ctx, testCred)
	require.NoError(t, err)
	require.Len(t, book, 1)
	assert.False(t, book[0].Price.Valid, "the broker sees no limit price")
	assert.False(t, book[0].TriggerPrice.Valid)

	stored, err := f.store.GetOrder(ctx, testUser, placed.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Price)
}

func TestModifyOrderRevalidates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	placed, err := f.orders.PlaceOrder(ctx, testUser, limitBuy("INFY", 10, 1450))
	require.NoError(t, err)

	_, err = f.orders.ModifyOrder(ctx, testUser, placed.ID, &ModifyOrderRequest{OrderType: models.OrderTypeStopLoss})
	var ve *apperrors.ValidationError
	require.True(t, apperrors.As(err, &ve))
	assert.Equal(t, "trigger_price", ve.Field)
	assert.Equal(t, 0, f.gw.Calls(broker.PaperOpModify))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	placed, err := f.orders.PlaceOrder(ctx, testUser, limitBuy("SBIN", 3, 800))
	require.NoError(t, err)

	cancelled, err := f.orders.CancelOrder(ctx, testUser, placed.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)

	_, err = f.orders.CancelOrder(ctx, testUser, placed.ID)
	var ve *apperrors.ValidationError
	require.True(t, apperrors.As(err, &ve), "terminal orders cannot be cancelled again")
	assert.Equal(t, "status", ve.Field)
}

func TestAmendRejectedOrderWithoutBrokerID(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	pending := &models.Order{ID: "local-1", UserID: testUser, Symbol: "INFY", Exchange: models.NSE, Quantity: 1, Status: models.OrderPending}
	require.NoError(t, f.store.CreateOrder(ctx, pending))

	_, err := f.orders.CancelOrder(ctx, testUser, "local-1")
	var ve *apperrors.ValidationError
	require.True(t, apperrors.As(err, &ve))
	assert.Equal(t, "broker_order_id", ve.Field)

	_, err = f.orders.CancelOrder(ctx, testUser, "missing")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestSyncOrdersMergesBrokerBook(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	placed, err := f.orders.PlaceOrder(ctx, testUser, limitBuy("INFY", 10, 1450))
	require.NoError(t, err)
	require.NoError(t, f.gw.SetOrderStatus(placed.BrokerOrderID, "complete", 10, 1449.5))

	f.gw.AddBrokerOrder(broker.OrderRecord{
		OrderID:         "EXT-1",
		TradingSymbol:   "SBIN",
		Exchange:        "NSE",
		OrderType:       "MARKET",
		TransactionType: "SELL",
		ProductType:     "DELIVERY",
		Quantity:        decimal.NewFromInt(4),
		Status:          "open",
		OrderTime:       "03-Jun-2024 09:20:00",
	})

	result, err := f.orders.SyncOrders(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, &OrderSyncResult{Updated: 1, Created: 1}, result)

	local, err := f.store.GetOrder(ctx, testUser, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, local.Status)
	assert.Equal(t, int64(10), local.FilledQuantity)
	assert.Equal(t, 1449.5, local.AveragePrice)

	synthetic, err := f.store.GetOrder(ctx, testUser, "EXT-1")
	require.NoError(t, err)
	assert.Equal(t, "SYNC-EXT-1", synthetic.ID)
	assert.Equal(t, models.SourceSync, synthetic.Source)
	assert.Equal(t, models.OrderOpen, synthetic.Status)

	again, err := f.orders.SyncOrders(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, &OrderSyncResult{Unchanged: 2}, again, "a repeated sync writes nothing")
}

func TestSyncOrdersSkipsBadRecords(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.gw.AddBrokerOrder(broker.OrderRecord{OrderID: "BAD-1", TradingSymbol: "", Exchange: "NSE", TransactionType: "BUY", Status: "open"})
	f.gw.AddBrokerOrder(broker.OrderRecord{OrderID: "OK-1", TradingSymbol: "ITC", Exchange: "NSE", TransactionType: "BUY", Quantity: decimal.NewFromInt(1), Status: "open"})

	result, err := f.orders.SyncOrders(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Failed)
}

func TestSyncOrdersRejectsConcurrentSync(t *testing.T) {
	f := newFixture(t, Config{})

	unlock, err := f.locks.TryLock(testUser, "sync")
	require.NoError(t, err)
	defer unlock()

	_, err = f.orders.SyncOrders(context.Background(), testUser)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)
	assert.Equal(t, 0, f.gw.Calls(broker.PaperOpOrderBook))

	_, err = f.orders.SyncOrders(context.Background(), "someone-else")
	assert.NoError(t, err, "other users are not blocked")
}

func TestSyncOrdersSameBrokerOrderForTwoUsers(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.gw.AddBrokerOrder(broker.OrderRecord{
		OrderID:         "B1",
		TradingSymbol:   "INFY",
		Exchange:        "NSE",
		TransactionType: "BUY",
		Quantity:        decimal.NewFromInt(1),
		Status:          "open",
	})

	for _, user := range []string{"alice", "bob"} {
		result, err := f.orders.SyncOrders(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, &OrderSyncResult{Created: 1}, result, user)

		orders, err := f.store.ListOrders(ctx, user, store.OrderFilter{})
		require.NoError(t, err)
		require.Len(t, orders, 1, user)
		assert.Equal(t, "SYNC-B1", orders[0].ID)
	}
}
