package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"brokerdash/internal/broker"
	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/logging"
	"brokerdash/internal/models"
	"brokerdash/internal/reconcile"
	"brokerdash/internal/store"
)

// OrderService places, amends and syncs orders for a user.
type OrderService struct {
	gateway broker.Gateway
	orders  store.OrderStore
	creds   CredentialSource
	locks   *UserLocks
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewOrderService creates an order service. locks may be shared with the
// PortfolioService so order-book syncs and portfolio syncs exclude each other.
func NewOrderService(gw broker.Gateway, orders store.OrderStore, creds CredentialSource, locks *UserLocks, logger zerolog.Logger) *OrderService {
	if locks == nil {
		locks = NewUserLocks()
	}
	return &OrderService{
		gateway: gw,
		orders:  orders,
		creds:   creds,
		locks:   locks,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// OrderSyncResult summarises an order-book merge.
type OrderSyncResult struct {
	Updated   int `json:"updated"`
	Created   int `json:"created"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// PlaceOrder validates req, records it as PENDING and submits it. The local
// record ends OPEN with the broker's order id on success, or REJECTED with the
// broker's message on failure, in which case the broker error is returned
// along with the rejected order.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, req *PlaceOrderRequest) (*models.Order, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	cred, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:              s.newID(),
		UserID:          userID,
		Source:          models.SourceUser,
		Symbol:          strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Exchange:        req.Exchange,
		InstrumentToken: req.InstrumentToken,
		OrderType:       req.OrderType,
		TransactionType: req.TransactionType,
		ProductType:     req.ProductType,
		Quantity:        req.Quantity,
		Status:          models.OrderPending,
		Validity:        req.Validity,
		Variety:         req.Variety,
		OrderTime:       now,
		UpdatedAt:       now,
	}
	if req.OrderType.RequiresPrice() {
		order.Price = req.Price
	}
	if req.OrderType.RequiresTrigger() {
		order.TriggerPrice = req.TriggerPrice
	}
	if order.ProductType == "" {
		order.ProductType = models.ProductDelivery
	}
	if order.Validity == "" {
		order.Validity = models.ValidityDay
	}
	if order.Variety == "" {
		order.Variety = models.VarietyNormal
	}

	log := logging.WithOrderID(logging.WithUser(s.logger, userID), order.ID)

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to record order: %w", err)
	}
	logging.LogOrder(log, order.ID, order.Symbol, string(order.TransactionType), string(order.Status))

	result, err := s.gateway.PlaceOrder(ctx, cred, broker.OrderRequestFromOrder(order))
	if err == nil && (result == nil || result.OrderID == "") {
		err = apperrors.NewBrokerError("NO_ORDER_ID", "broker did not return an order id", nil)
	}
	if err != nil {
		msg := apperrors.BrokerMessage(err)
		order.Status = models.OrderRejected
		order.StatusMessage = msg
		order.UpdatedAt = s.now()
		if saveErr := s.orders.SaveOrder(context.WithoutCancel(ctx), order); saveErr != nil {
			log.Error().Err(saveErr).Msg("Failed to record order rejection")
		}
		logging.LogOrder(log, order.ID, order.Symbol, string(order.TransactionType), string(order.Status))
		return order, apperrors.NewOrderError(order.ID, order.Symbol, "place", msg, err)
	}

	order.Status = models.OrderOpen
	order.BrokerOrderID = result.OrderID
	order.StatusMessage = result.Message
	order.UpdatedAt = s.now()
	if err := s.orders.SaveOrder(context.WithoutCancel(ctx), order); err != nil {
		log.Error().Err(err).Str("broker_order_id", result.OrderID).Msg("Order placed but not saved")
		return order, fmt.Errorf("order placed as %s but failed to save: %w", result.OrderID, err)
	}
	logging.LogOrder(log, order.ID, order.Symbol, string(order.TransactionType), string(order.Status))

	return order, nil
}

// amendable loads an order that can still be modified or cancelled.
func (s *OrderService) amendable(ctx context.Context, userID, id, action string) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, apperrors.NewValidationError("status", order.Status, fmt.Sprintf("cannot %s an order that is %s", action, order.Status))
	}
	if order.BrokerOrderID == "" {
		return nil, apperrors.NewValidationError("broker_order_id", "", fmt.Sprintf("cannot %s an order the broker has not accepted", action))
	}
	return order, nil
}

// ModifyOrder amends an open order at the broker and marks it MODIFIED.
func (s *OrderService) ModifyOrder(ctx context.Context, userID, id string, req *ModifyOrderRequest) (*models.Order, error) {
	order, err := s.amendable(ctx, userID, id, "modify")
	if err != nil {
		return nil, err
	}

	amended := *order
	if req.OrderType != "" {
		amended.OrderType = req.OrderType
	}
	if req.Quantity != 0 {
		amended.Quantity = req.Quantity
	}
	if req.Price != nil {
		amended.Price = req.Price
	}
	if req.TriggerPrice != nil {
		amended.TriggerPrice = req.TriggerPrice
	}
	if !amended.OrderType.RequiresPrice() {
		amended.Price = nil
	}
	if !amended.OrderType.RequiresTrigger() {
		amended.TriggerPrice = nil
	}
	if err := ValidateOrderRequest(requestFromOrder(&amended)); err != nil {
		return nil, err
	}
	if amended.Quantity < amended.FilledQuantity {
		return nil, apperrors.NewValidationError("quantity", amended.Quantity, "quantity cannot be less than the filled quantity")
	}

	cred, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.ModifyOrder(ctx, cred, order.BrokerOrderID, broker.OrderRequestFromOrder(&amended)); err != nil {
		return nil, apperrors.NewOrderError(order.ID, order.Symbol, "modify", apperrors.BrokerMessage(err), err)
	}

	amended.Status = models.OrderModified
	amended.StatusMessage = ""
	amended.UpdatedAt = s.now()
	if err := s.orders.SaveOrder(context.WithoutCancel(ctx), &amended); err != nil {
		return nil, fmt.Errorf("failed to save modified order: %w", err)
	}

	logging.LogOrder(logging.WithUser(s.logger, userID), amended.ID, amended.Symbol, string(amended.TransactionType), string(amended.Status))
	return &amended, nil
}

// CancelOrder cancels an open order at the broker and marks it CANCELLED.
func (s *OrderService) CancelOrder(ctx context.Context, userID, id string) (*models.Order, error) {
	order, err := s.amendable(ctx, userID, id, "cancel")
	if err != nil {
		return nil, err
	}

	cred, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.CancelOrder(ctx, cred, order.Variety, order.BrokerOrderID); err != nil {
		return nil, apperrors.NewOrderError(order.ID, order.Symbol, "cancel", apperrors.BrokerMessage(err), err)
	}

	order.Status = models.OrderCancelled
	order.StatusMessage = ""
	order.UpdatedAt = s.now()
	if err := s.orders.SaveOrder(context.WithoutCancel(ctx), order); err != nil {
		return nil, fmt.Errorf("failed to save cancelled order: %w", err)
	}

	logging.LogOrder(logging.WithUser(s.logger, userID), order.ID, order.Symbol, string(order.TransactionType), string(order.Status))
	return order, nil
}

// GetOrder returns one order by client or broker id.
func (s *OrderService) GetOrder(ctx context.Context, userID, id string) (*models.Order, error) {
	return s.orders.GetOrder(ctx, userID, id)
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string, filter store.OrderFilter) ([]models.Order, error) {
	return s.orders.ListOrders(ctx, userID, filter)
}

// SyncOrders merges the broker's order book into the user's local orders.
func (s *OrderService) SyncOrders(ctx context.Context, userID string) (*OrderSyncResult, error) {
	unlock, err := s.locks.TryLock(userID, "order sync")
	if err != nil {
		return nil, err
	}
	defer unlock()

	cred, err := s.creds.Credential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.syncOrders(ctx, userID, cred)
}

// syncOrders does the merge. The caller holds the user's lock.
func (s *OrderService) syncOrders(ctx context.Context, userID string, cred broker.Credential) (*OrderSyncResult, error) {
	started := s.now()
	log := logging.WithOperation(logging.WithUser(s.logger, userID), "order_sync")

	records, err := s.gateway.GetOrderBook(ctx, cred)
	if err != nil {
		logging.LogSync(s.logger, userID, "orders", time.Since(started), err)
		return nil, fmt.Errorf("failed to fetch order book: %w", err)
	}

	local, err := s.orders.ListOrders(ctx, userID, store.OrderFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	merged := reconcile.MergeOrderBook(userID, local, records, s.now())
	result := &OrderSyncResult{Unchanged: merged.Unchanged}

	for _, rerr := range merged.Failed {
		log.Warn().Err(rerr.Err).Int("index", rerr.Index).Str("symbol", rerr.Key).Msg("Skipping broker order")
		result.Failed++
	}

	for i := range merged.Updated {
		o := &merged.Updated[i]
		if err := s.orders.SaveOrder(ctx, o); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Str("broker_order_id", o.BrokerOrderID).Msg("Failed to save synced order")
			result.Failed++
			continue
		}
		result.Updated++
	}

	for i := range merged.Created {
		o := &merged.Created[i]
		if err := s.orders.CreateOrder(ctx, o); err != nil {
			log.Warn().Err(err).Str("broker_order_id", o.BrokerOrderID).Msg("Failed to create synced order")
			result.Failed++
			continue
		}
		result.Created++
	}

	logging.LogSync(s.logger, userID, "orders", time.Since(started), nil)
	log.Info().
		Int("updated", result.Updated).
		Int("created", result.Created).
		Int("unchanged", result.Unchanged).
		Int("failed", result.Failed).
		Msg("Order book merged")

	return result, nil
}
