package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "brokerdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(id, userID, brokerID string, at time.Time) *models.Order {
	return &models.Order{
		ID:              id,
		UserID:          userID,
		BrokerOrderID:   brokerID,
		Source:          models.SourceUser,
		Symbol:          "TCS",
		Exchange:        models.NSE,
		OrderType:       models.OrderTypeLimit,
		TransactionType: models.Buy,
		ProductType:     models.ProductDelivery,
		Quantity:        10,
		Price:           models.Float64(3500),
		Status:          models.OrderOpen,
		OrderTime:       at,
		UpdatedAt:       at,
	}
}

func TestSQLiteStore_PortfolioNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPortfolio(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestSQLiteStore_SavePortfolioReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	p := models.NewPortfolio("u1", now)
	require.NoError(t, s.SavePortfolio(ctx, p))

	p.Holdings = append(p.Holdings, models.Holding{Symbol: "INFY", Exchange: models.NSE, Quantity: 3})
	p.AvailableFunds = 2500
	require.NoError(t, s.SavePortfolio(ctx, p))

	got, err := s.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Holdings, 1)
	assert.Equal(t, 2500.0, got.AvailableFunds)
	assert.Equal(t, models.SyncPending, got.SyncStatus)
}

func TestSQLiteStore_EmptyPortfolioHasNonNilHoldings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := models.NewPortfolio("u1", time.Now())
	p.Holdings = nil
	require.NoError(t, s.SavePortfolio(ctx, p))

	got, err := s.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, got.Holdings)
	assert.Empty(t, got.Holdings)
}

func TestSQLiteStore_CreateOrderDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateOrder(ctx, testOrder("o1", "u1", "B1", now)))

	err := s.CreateOrder(ctx, testOrder("o1", "u1", "", now))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists, "same client id")

	err = s.CreateOrder(ctx, testOrder("o2", "u1", "B1", now))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists, "same broker id for the same user")

	assert.NoError(t, s.CreateOrder(ctx, testOrder("o3", "u2", "B1", now)), "broker ids are scoped per user")
	assert.NoError(t, s.CreateOrder(ctx, testOrder("o4", "u1", "", now)), "missing broker ids never collide")
	assert.NoError(t, s.CreateOrder(ctx, testOrder("o5", "u1", "", now)))
}

func TestSQLiteStore_SaveOrderUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	o := testOrder("o1", "u1", "", now)
	o.Status = models.OrderPending
	require.NoError(t, s.SaveOrder(ctx, o))

	o.Status = models.OrderOpen
	o.BrokerOrderID = "B9"
	require.NoError(t, s.SaveOrder(ctx, o))

	got, err := s.GetOrder(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderOpen, got.Status)
	assert.Equal(t, "B9", got.BrokerOrderID)
	assert.Equal(t, 3500.0, *got.Price)

	open, err := s.ListOrders(ctx, "u1", OrderFilter{Status: models.OrderOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSQLiteStore_GetOrderByBrokerID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, testOrder("o1", "u1", "B1", time.Now())))

	got, err := s.GetOrder(ctx, "u1", "B1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)

	_, err = s.GetOrder(ctx, "u2", "B1")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound, "orders are scoped per user")
}

func TestSQLiteStore_ListOrdersFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 2, 9, 15, 0, 0, time.UTC)

	a := testOrder("a", "u1", "", base)
	b := testOrder("b", "u1", "", base.Add(time.Minute))
	b.Symbol = "INFY"
	c := testOrder("c", "u1", "", base.Add(2*time.Minute))
	c.Status = models.OrderComplete
	for _, o := range []*models.Order{a, b, c} {
		require.NoError(t, s.CreateOrder(ctx, o))
	}

	all, err := s.ListOrders(ctx, "u1", OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	infy, err := s.ListOrders(ctx, "u1", OrderFilter{Symbol: "infy"})
	require.NoError(t, err)
	require.Len(t, infy, 1)
	assert.Equal(t, "b", infy[0].ID)

	recent, err := s.ListOrders(ctx, "u1", OrderFilter{Since: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	none, err := s.ListOrders(ctx, "u2", OrderFilter{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSQLiteStore_Users(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	u := &models.User{ID: "u1", Email: "Asha@Example.com", Name: "Asha", PasswordHash: "hash", CreatedAt: now}
	require.NoError(t, s.CreateUser(ctx, u))

	err := s.CreateUser(ctx, &models.User{ID: "u2", Email: "asha@example.com", CreatedAt: now})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	got, err := s.GetUserByEmail(ctx, "ASHA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	got.Broker = &models.BrokerSession{ClientCode: "A123", EncryptedToken: "sealed", LinkedAt: now}
	require.NoError(t, s.SaveUser(ctx, got))

	reloaded, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, reloaded.Broker)
	assert.Equal(t, "A123", reloaded.Broker.ClientCode)

	err = s.SaveUser(ctx, &models.User{ID: "ghost", Email: "ghost@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSQLiteStore_LastSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.GetLastSync(ctx, "price_refresh")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSync(ctx, "price_refresh", at))

	last, err = s.GetLastSync(ctx, "price_refresh")
	require.NoError(t, err)
	assert.True(t, last.Equal(at))
}

// assertOrderIDsScopedPerUser checks that two users can hold orders with the
// same client id and broker id without touching each other's records.
func assertOrderIDsScopedPerUser(t *testing.T, s OrderStore) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2024, 5, 2, 9, 15, 0, 0, time.UTC)

	require.NoError(t, s.CreateOrder(ctx, testOrder("SYNC-B1", "alice", "B1", at)))
	require.NoError(t, s.CreateOrder(ctx, testOrder("SYNC-B1", "bob", "B1", at)))

	bobs := testOrder("SYNC-B1", "bob", "B1", at)
	bobs.Status = models.OrderComplete
	require.NoError(t, s.SaveOrder(ctx, bobs))

	alice, err := s.GetOrder(ctx, "alice", "SYNC-B1")
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.UserID)
	assert.Equal(t, models.OrderOpen, alice.Status, "another user's save must not overwrite")

	bob, err := s.GetOrder(ctx, "bob", "B1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, bob.Status)

	for _, user := range []string{"alice", "bob"} {
		orders, err := s.ListOrders(ctx, user, OrderFilter{})
		require.NoError(t, err)
		assert.Len(t, orders, 1, user)
	}
}

func TestSQLiteStore_OrderIDsScopedPerUser(t *testing.T) {
	assertOrderIDsScopedPerUser(t, newTestStore(t))
}
