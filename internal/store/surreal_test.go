package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
)

// newSurrealTestStore connects to the database named by SURREALDB_TEST_ADDRESS,
// using a fresh database per test. Tests are skipped when it is unset.
func newSurrealTestStore(t *testing.T) *SurrealStore {
	t.Helper()
	addr := os.Getenv("SURREALDB_TEST_ADDRESS")
	if addr == "" {
		t.Skip("SURREALDB_TEST_ADDRESS not set")
	}

	cfg := SurrealConfig{
		Address:   addr,
		Namespace: "brokerdash_test",
		Database:  fmt.Sprintf("t_%d", time.Now().UnixNano()%1000000),
		Username:  "root",
		Password:  "root",
	}
	s, err := NewSurrealStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSurrealStore_Portfolio(t *testing.T) {
	s := newSurrealTestStore(t)
	ctx := context.Background()

	_, err := s.GetPortfolio(ctx, "u1")
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)

	p := models.NewPortfolio("u1", time.Now())
	p.Holdings = append(p.Holdings, models.Holding{Symbol: "SBIN", Exchange: models.NSE, Quantity: 4})
	require.NoError(t, s.SavePortfolio(ctx, p))

	got, err := s.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Holdings, 1)
	assert.Equal(t, "SBIN", got.Holdings[0].Symbol)
}

func TestSurrealStore_Orders(t *testing.T) {
	s := newSurrealTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 2, 9, 15, 0, 0, time.UTC)

	require.NoError(t, s.CreateOrder(ctx, testOrder("o1", "u1", "B1", base)))
	require.NoError(t, s.CreateOrder(ctx, testOrder("o2", "u1", "", base.Add(time.Minute))))

	assert.ErrorIs(t, s.CreateOrder(ctx, testOrder("o1", "u1", "", base)), apperrors.ErrAlreadyExists)
	assert.ErrorIs(t, s.CreateOrder(ctx, testOrder("o3", "u1", "B1", base)), apperrors.ErrAlreadyExists)

	byBroker, err := s.GetOrder(ctx, "u1", "B1")
	require.NoError(t, err)
	assert.Equal(t, "o1", byBroker.ID)

	orders, err := s.ListOrders(ctx, "u1", OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].ID)
}

func TestSurrealStore_Users(t *testing.T) {
	s := newSurrealTestStore(t)
	ctx := context.Background()

	u := &models.User{ID: "u1", Email: "dev@example.com", CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByEmail(ctx, "DEV@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	assert.ErrorIs(t, s.SaveUser(ctx, &models.User{ID: "ghost"}), apperrors.ErrDataNotFound)
}

func TestSurrealStore_OrderIDsScopedPerUser(t *testing.T) {
	assertOrderIDsScopedPerUser(t, newSurrealTestStore(t))
}
