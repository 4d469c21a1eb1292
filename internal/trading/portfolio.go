package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"brokerdash/internal/broker"
	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/logging"
	"brokerdash/internal/models"
	"brokerdash/internal/reconcile"
	"brokerdash/internal/store"
)

// PortfolioService keeps a user's cached portfolio in step with the broker.
type PortfolioService struct {
	gateway    broker.Gateway
	portfolios store.PortfolioStore
	orders     *OrderService
	creds      CredentialSource
	locks      *UserLocks
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPortfolioService creates a portfolio service. orders may be nil, in which
// case a full sync skips the order book.
func NewPortfolioService(gw broker.Gateway, portfolios store.PortfolioStore, orders *OrderService, creds CredentialSource, locks *UserLocks, cfg Config, logger zerolog.Logger) *PortfolioService {
	if locks == nil {
		locks = NewUserLocks()
	}
	return &PortfolioService{
		gateway:    gw,
		portfolios: portfolios,
		orders:     orders,
		creds:      creds,
		locks:      locks,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// SyncResult is the outcome of a full sync.
type SyncResult struct {
	Portfolio      *models.Portfolio `json:"portfolio"`
	SkippedRecords int               `json:"skipped_records"`
	Orders         *OrderSyncResult  `json:"orders,omitempty"`
	OrderSyncError string            `json:"order_sync_error,omitempty"`
}

// RefreshResult is the outcome of a price refresh.
type RefreshResult struct {
	Portfolio *models.Portfolio `json:"portfolio"`
	Requested int               `json:"requested"`
	Updated   int               `json:"updated"`
	Failed    int               `json:"failed"`
}

// Summary is the dashboard view of a portfolio.
type Summary struct {
	Portfolio *models.Portfolio `json:"portfolio"`
	Movers    models.Movers     `json:"movers"`
}

// ManualHolding is a holding entered by hand.
type ManualHolding struct {
	Symbol          string          `json:"symbol"`
	Exchange        models.Exchange `json:"exchange"`
	InstrumentToken string          `json:"instrument_token"`
	Quantity        int64           `json:"quantity"`
	AveragePrice    float64         `json:"average_price"`
	CurrentPrice    *float64        `json:"current_price,omitempty"`
}

// GetPortfolio returns the cached portfolio.
func (s *PortfolioService) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	return s.portfolios.GetPortfolio(ctx, userID)
}

// loadOrCreate returns the cached portfolio, or a fresh empty one.
func (s *PortfolioService) loadOrCreate(ctx context.Context, userID string) (*models.Portfolio, error) {
	p, err := s.portfolios.GetPortfolio(ctx, userID)
	if apperrors.Is(err, apperrors.ErrDataNotFound) {
		return models.NewPortfolio(userID, s.now()), nil
	}
	return p, err
}

// Sync replaces the cached holdings with the broker's snapshot, reads funds
// and merges the order book. The portfolio is saved as syncing before the
// broker is called and always ends completed or failed. On a holdings failure
// the previous holdings are kept and the broker error is returned.
func (s *PortfolioService) Sync(ctx context.Context, userID string) (*SyncResult, error) {
	unlock, err := s.locks.TryLock(userID, "sync")
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := s.now()
	log := logging.WithOperation(logging.WithUser(s.logger, userID), "sync")

	cred, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, err
	}

	current, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}

	syncing := reconcile.MarkSyncing(current, s.now())
	if err := s.portfolios.SavePortfolio(ctx, syncing); err != nil {
		return nil, fmt.Errorf("failed to save portfolio: %w", err)
	}

	records, err := s.gateway.GetHoldings(ctx, cred)
	if err != nil {
		failed := reconcile.MarkSyncFailed(syncing, apperrors.BrokerMessage(err), s.now())
		if saveErr := s.portfolios.SavePortfolio(context.WithoutCancel(ctx), failed); saveErr != nil {
			log.Error().Err(saveErr).Msg("Failed to record sync failure")
		}
		logging.LogSync(s.logger, userID, "holdings", time.Since(started), err)
		return nil, fmt.Errorf("failed to sync holdings: %w", err)
	}

	next, skipped := reconcile.ReconcileFullSync(syncing, records, s.now())
	for _, rerr := range skipped {
		log.Warn().Err(rerr.Err).Int("index", rerr.Index).Str("instrument", rerr.Key).Msg("Skipping broker holding")
	}

	funds, err := s.gateway.GetFunds(ctx, cred)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch funds, keeping previous value")
	} else {
		next.AvailableFunds = funds.AvailableCash
	}

	if err := s.portfolios.SavePortfolio(context.WithoutCancel(ctx), next); err != nil {
		failed := reconcile.MarkSyncFailed(syncing, "failed to save holdings", s.now())
		if saveErr := s.portfolios.SavePortfolio(context.WithoutCancel(ctx), failed); saveErr != nil {
			log.Error().Err(saveErr).Msg("Failed to record sync failure")
		}
		return nil, fmt.Errorf("failed to save portfolio: %w", err)
	}
	logging.LogSync(s.logger, userID, "holdings", time.Since(started), nil)

	result := &SyncResult{Portfolio: next, SkippedRecords: len(skipped)}

	if s.orders != nil {
		orders, err := s.orders.syncOrders(ctx, userID, cred)
		if err != nil {
			log.Warn().Err(err).Msg("Order book sync failed")
			result.OrderSyncError = apperrors.BrokerMessage(err)
		} else {
			result.Orders = orders
		}
	}

	return result, nil
}

// RefreshPrices fetches the last traded price of every holding and applies
// the successful ones. Calls run in batches of Config.PriceBatchSize with
// Config.PriceBatchDelay between batches. A failed fetch is logged and that
// holding keeps its previous price.
func (s *PortfolioService) RefreshPrices(ctx context.Context, userID string) (*RefreshResult, error) {
	unlock, err := s.locks.TryLock(userID, "price refresh")
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := logging.WithOperation(logging.WithUser(s.logger, userID), "refresh_prices")

	cred, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, err
	}

	current, err := s.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{Requested: len(current.Holdings)}
	updates := make([]reconcile.PriceUpdate, 0, len(current.Holdings))

	for start := 0; start < len(current.Holdings); start += s.cfg.PriceBatchSize {
		if start > 0 {
			if err := sleep(ctx, s.cfg.PriceBatchDelay); err != nil {
				return nil, err
			}
		}

		end := start + s.cfg.PriceBatchSize
		if end > len(current.Holdings) {
			end = len(current.Holdings)
		}

		for _, h := range current.Holdings[start:end] {
			price, err := s.gateway.GetLTP(ctx, cred, h.Exchange, h.Symbol, h.InstrumentToken)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				symLog := logging.WithSymbol(log, h.Symbol)
				symLog.Warn().Err(err).Str("exchange", string(h.Exchange)).Msg("Failed to fetch LTP")
				result.Failed++
				continue
			}
			updates = append(updates, reconcile.PriceUpdate{Symbol: h.Symbol, Exchange: h.Exchange, Price: price})
		}
	}

	next, applied := reconcile.ReconcilePriceRefresh(current, updates, s.now())
	result.Updated = applied
	result.Portfolio = next

	if err := s.portfolios.SavePortfolio(context.WithoutCancel(ctx), next); err != nil {
		return nil, fmt.Errorf("failed to save portfolio: %w", err)
	}

	log.Info().
		Int("requested", result.Requested).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Msg("Prices refreshed")

	return result, nil
}

// AddHolding adds or replaces a manually entered holding.
func (s *PortfolioService) AddHolding(ctx context.Context, userID string, mh ManualHolding) (*models.Portfolio, error) {
	if strings.TrimSpace(mh.Symbol) == "" {
		return nil, apperrors.NewValidationError("symbol", mh.Symbol, "symbol is required")
	}
	if !mh.Exchange.Valid() {
		return nil, apperrors.NewValidationError("exchange", mh.Exchange, "unsupported exchange")
	}
	if mh.Quantity <= 0 {
		return nil, apperrors.NewValidationError("quantity", mh.Quantity, "quantity must be greater than 0")
	}
	if mh.AveragePrice < 0 {
		return nil, apperrors.NewValidationError("average_price", mh.AveragePrice, "average price cannot be negative")
	}
	currentPrice := mh.AveragePrice
	if mh.CurrentPrice != nil {
		if *mh.CurrentPrice < 0 {
			return nil, apperrors.NewValidationError("current_price", *mh.CurrentPrice, "current price cannot be negative")
		}
		currentPrice = *mh.CurrentPrice
	}

	unlock, err := s.locks.TryLock(userID, "holding update")
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}

	next := reconcile.UpsertHolding(current, models.Holding{
		Symbol:          mh.Symbol,
		Exchange:        mh.Exchange,
		InstrumentToken: mh.InstrumentToken,
		Quantity:        mh.Quantity,
		AveragePrice:    mh.AveragePrice,
		CurrentPrice:    currentPrice,
	}, s.now())

	if err := s.portfolios.SavePortfolio(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save portfolio: %w", err)
	}
	return next, nil
}

// RemoveHolding deletes one holding. It returns errors.ErrDataNotFound when
// the portfolio has no such holding.
func (s *PortfolioService) RemoveHolding(ctx context.Context, userID, symbol string, exchange models.Exchange) (*models.Portfolio, error) {
	unlock, err := s.locks.TryLock(userID, "holding update")
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	next, ok := reconcile.RemoveHolding(current, models.HoldingKey{Symbol: symbol, Exchange: exchange}, s.now())
	if !ok {
		return nil, apperrors.NewDataError("holding", string(exchange)+":"+strings.ToUpper(symbol), "not found", apperrors.ErrDataNotFound)
	}

	if err := s.portfolios.SavePortfolio(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save portfolio: %w", err)
	}
	return next, nil
}

// Movers returns the top gainers and losers. A limit <= 0 uses the configured default.
func (s *PortfolioService) Movers(ctx context.Context, userID string, limit int) (models.Movers, error) {
	if limit <= 0 {
		limit = s.cfg.MoversLimit
	}
	p, err := s.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		return models.Movers{}, err
	}
	return reconcile.TopMovers(p, limit), nil
}

// Summary returns the portfolio with its top movers.
func (s *PortfolioService) Summary(ctx context.Context, userID string) (*Summary, error) {
	p, err := s.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Summary{Portfolio: p, Movers: reconcile.TopMovers(p, s.cfg.MoversLimit)}, nil
}
