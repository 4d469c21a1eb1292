package trading

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"brokerdash/internal/broker"
	"brokerdash/internal/store"
)

const testUser = "user-1"

var testCred = broker.Credential{ClientCode: "A123", AccessToken: "token"}

type fixture struct {
	gw        *broker.PaperGateway
	store     *store.SQLiteStore
	locks     *UserLocks
	orders    *OrderService
	portfolio *PortfolioService
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithGateway(t, cfg, nil)
}

// newFixtureWithGateway wires the services to wrap(gw) when wrap is non-nil.
func newFixtureWithGateway(t *testing.T, cfg Config, wrap func(*broker.PaperGateway, store.Store) broker.Gateway) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trading.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	paper := broker.NewPaperGateway(0)
	var gw broker.Gateway = paper
	if wrap != nil {
		gw = wrap(paper, st)
	}

	creds := CredentialFunc(func(ctx context.Context, userID string) (broker.Credential, error) {
		return testCred, nil
	})
	locks := NewUserLocks()
	orders := NewOrderService(gw, st, creds, locks, zerolog.Nop())
	portfolio := NewPortfolioService(gw, st, orders, creds, locks, cfg, zerolog.Nop())

	return &fixture{gw: paper, store: st, locks: locks, orders: orders, portfolio: portfolio}
}

func dec(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

func holdingRecord(symbol string, qty int64, avg, ltp float64) broker.HoldingRecord {
	return broker.HoldingRecord{
		Symbol:          symbol,
		Exchange:        "NSE",
		InstrumentToken: symbol + "-EQ",
		Quantity:        qty,
		AveragePrice:    dec(avg),
		LTP:             dec(ltp),
	}
}

var fixedNow = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func (f *fixture) freezeClock() {
	f.orders.now = func() time.Time { return fixedNow }
	f.portfolio.now = func() time.Time { return fixedNow }
}
