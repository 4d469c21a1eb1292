package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
)

// PaperGateway is an in-memory broker for local runs and tests. Holdings,
// prices, funds and the order book are seeded by the caller; placed orders
// are accepted immediately and stay open until modified or cancelled.
type PaperGateway struct {
	mu sync.RWMutex

	holdings  []HoldingRecord
	prices    map[string]float64
	funds     models.Funds
	orders    map[string]*OrderRecord
	sequence  []string
	failures  map[string]error
	calls     map[string]int
	counter   int
	now       func() time.Time
	sessionID int
}

// NewPaperGateway creates an empty paper gateway with the given cash balance.
func NewPaperGateway(initialCash float64) *PaperGateway {
	if initialCash == 0 {
		initialCash = 1000000 // 10 lakhs default
	}
	return &PaperGateway{
		prices:   make(map[string]float64),
		funds:    models.Funds{AvailableCash: initialCash, Net: initialCash},
		orders:   make(map[string]*OrderRecord),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// Paper gateway operation names, for FailOn and Calls.
const (
	PaperOpHoldings  = "holdings"
	PaperOpFunds     = "funds"
	PaperOpLTP       = "ltp"
	PaperOpOrderBook = "orderbook"
	PaperOpPlace     = "place"
	PaperOpModify    = "modify"
	PaperOpCancel    = "cancel"
	PaperOpLogin     = "login"
)

func priceKey(exchange, symbol string) string {
	return strings.ToUpper(exchange) + ":" + strings.ToUpper(symbol)
}

// SetHoldings replaces the reported holdings.
func (p *PaperGateway) SetHoldings(records ...HoldingRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings = append([]HoldingRecord(nil), records...)
}

// SetPrice sets the last traded price of an instrument.
func (p *PaperGateway) SetPrice(exchange models.Exchange, symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[priceKey(string(exchange), symbol)] = price
}

// SetFunds replaces the reported funds.
func (p *PaperGateway) SetFunds(f models.Funds) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funds = f
}

// AddBrokerOrder inserts an order the broker knows about, as if placed elsewhere.
func (p *PaperGateway) AddBrokerOrder(rec OrderRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[rec.OrderID]; !ok {
		p.sequence = append(p.sequence, rec.OrderID)
	}
	cp := rec
	p.orders[rec.OrderID] = &cp
}

// SetOrderStatus changes the broker-side status of an order, e.g. to simulate a fill.
func (p *PaperGateway) SetOrderStatus(orderID, status string, filled int64, avgPrice float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order %s: %w", orderID, apperrors.ErrDataNotFound)
	}
	rec.Status = status
	rec.FilledShares = decimal.NewNullDecimal(decimal.NewFromInt(filled))
	rec.AveragePrice = decimal.NewNullDecimal(decimal.NewFromFloat(avgPrice))
	rec.UpdateTime = p.now().Format(time.RFC3339)
	return nil
}

// FailOn makes every subsequent call of op fail with err. A nil err clears it.
func (p *PaperGateway) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Calls returns how many times op was invoked.
func (p *PaperGateway) Calls(op string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[op]
}

// enter records the call and returns the injected failure, if any. Caller holds the lock.
func (p *PaperGateway) enter(ctx context.Context, op string) error {
	p.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.failures[op]
}

// Login accepts any credentials and issues a fake token.
func (p *PaperGateway) Login(ctx context.Context, lr LoginRequest) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpLogin); err != nil {
		return nil, err
	}
	p.sessionID++
	now := p.now()
	return &Session{
		ClientCode:  lr.ClientCode,
		AccessToken: fmt.Sprintf("paper-token-%s-%d", lr.ClientCode, p.sessionID),
		FeedToken:   fmt.Sprintf("paper-feed-%d", p.sessionID),
		ExpiresAt:   SessionExpiry(now),
	}, nil
}

// GetHoldings returns the seeded holdings.
func (p *PaperGateway) GetHoldings(ctx context.Context, cred Credential) ([]HoldingRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpHoldings); err != nil {
		return nil, err
	}
	return append([]HoldingRecord(nil), p.holdings...), nil
}

// GetFunds returns the seeded funds.
func (p *PaperGateway) GetFunds(ctx context.Context, cred Credential) (*models.Funds, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpFunds); err != nil {
		return nil, err
	}
	f := p.funds
	return &f, nil
}

// GetLTP returns the seeded price of an instrument.
func (p *PaperGateway) GetLTP(ctx context.Context, cred Credential, exchange models.Exchange, symbol, instrumentToken string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpLTP+":"+priceKey(string(exchange), symbol)); err != nil {
		return 0, err
	}
	if err := p.enter(ctx, PaperOpLTP); err != nil {
		return 0, err
	}
	price, ok := p.prices[priceKey(string(exchange), symbol)]
	if !ok {
		return 0, apperrors.NewBrokerError("NO_LTP", fmt.Sprintf("no price for %s:%s", exchange, symbol), nil)
	}
	return price, nil
}

// GetOrderBook returns every known order in placement order.
func (p *PaperGateway) GetOrderBook(ctx context.Context, cred Credential) ([]OrderRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpOrderBook); err != nil {
		return nil, err
	}
	records := make([]OrderRecord, 0, len(p.sequence))
	for _, id := range p.sequence {
		records = append(records, *p.orders[id])
	}
	return records, nil
}

// PlaceOrder accepts the order and leaves it open.
func (p *PaperGateway) PlaceOrder(ctx context.Context, cred Credential, req *OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpPlace); err != nil {
		return nil, err
	}

	p.counter++
	id := fmt.Sprintf("PAPER-%06d", p.counter)
	now := p.now().Format(time.RFC3339)
	rec := &OrderRecord{
		OrderID:         id,
		TradingSymbol:   req.Symbol,
		Exchange:        string(req.Exchange),
		SymbolToken:     req.InstrumentToken,
		OrderType:       string(req.OrderType),
		TransactionType: string(req.TransactionType),
		ProductType:     string(req.ProductType),
		Quantity:        decimal.NewFromInt(req.Quantity),
		Price:           paperPrice(req.Price),
		TriggerPrice:    paperPrice(req.TriggerPrice),
		Status:          "open",
		FilledShares:    decimal.NewNullDecimal(decimal.Zero),
		OrderTime:       now,
		UpdateTime:      now,
		Variety:         req.Variety,
		Duration:        req.Validity,
	}
	p.orders[id] = rec
	p.sequence = append(p.sequence, id)

	return &OrderResult{OrderID: id, Status: "PLACED", Message: "Order placed successfully"}, nil
}

// ModifyOrder amends an open order.
func (p *PaperGateway) ModifyOrder(ctx context.Context, cred Credential, brokerOrderID string, req *OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpModify); err != nil {
		return nil, err
	}
	rec, err := p.openOrder(brokerOrderID)
	if err != nil {
		return nil, err
	}
	rec.OrderType = string(req.OrderType)
	rec.Quantity = decimal.NewFromInt(req.Quantity)
	rec.Price = paperPrice(req.Price)
	rec.TriggerPrice = paperPrice(req.TriggerPrice)
	rec.Status = "modified"
	rec.UpdateTime = p.now().Format(time.RFC3339)
	return &OrderResult{OrderID: brokerOrderID, Status: "MODIFIED", Message: "Order modified successfully"}, nil
}

// CancelOrder cancels an open order.
func (p *PaperGateway) CancelOrder(ctx context.Context, cred Credential, variety, brokerOrderID string) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(ctx, PaperOpCancel); err != nil {
		return nil, err
	}
	rec, err := p.openOrder(brokerOrderID)
	if err != nil {
		return nil, err
	}
	rec.Status = "cancelled"
	rec.UpdateTime = p.now().Format(time.RFC3339)
	return &OrderResult{OrderID: brokerOrderID, Status: "CANCELLED", Message: "Order cancelled successfully"}, nil
}

func (p *PaperGateway) openOrder(id string) (*OrderRecord, error) {
	rec, ok := p.orders[id]
	if !ok {
		return nil, apperrors.NewBrokerError("AB2001", "order not found", nil)
	}
	if StatusMapping(rec.Status).IsTerminal() {
		return nil, apperrors.NewBrokerError("AB2002", fmt.Sprintf("order is %s", rec.Status), nil)
	}
	return rec, nil
}

// paperPrice leaves a zero request price unset, as a broker does for
// market orders.
func paperPrice(v float64) decimal.NullDecimal {
	if v == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}
