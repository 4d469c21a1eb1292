package models

import "time"

// SyncStatus is the state of the last broker sync for a portfolio.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Holding represents one owned position. Identity is (Symbol, Exchange).
//
// InvestedValue, CurrentValue, PnL and PnLPercent are derived; they are
// rewritten by Revalue and never read back as a source of truth.
type Holding struct {
	Symbol          string    `json:"symbol"`
	Exchange        Exchange  `json:"exchange"`
	InstrumentToken string    `json:"instrument_token"`
	Quantity        int64     `json:"quantity"`
	AveragePrice    float64   `json:"average_price"`
	CurrentPrice    float64   `json:"current_price"`
	LastUpdated     time.Time `json:"last_updated"`

	InvestedValue float64 `json:"invested_value"`
	CurrentValue  float64 `json:"current_value"`
	PnL           float64 `json:"pnl"`
	PnLPercent    float64 `json:"pnl_percent"`
}

// Key returns the holding's identity within a portfolio.
func (h *Holding) Key() HoldingKey {
	return HoldingKey{Symbol: h.Symbol, Exchange: h.Exchange}
}

// Revalue recomputes the derived valuation fields from quantity and prices.
func (h *Holding) Revalue() {
	qty := float64(h.Quantity)
	h.InvestedValue = qty * h.AveragePrice
	h.CurrentValue = qty * h.CurrentPrice
	h.PnL = h.CurrentValue - h.InvestedValue
	h.PnLPercent = percentOf(h.PnL, h.InvestedValue)
}

// HoldingKey identifies a holding within a portfolio.
type HoldingKey struct {
	Symbol   string
	Exchange Exchange
}

// Portfolio is the cached mirror of one user's broker holdings.
type Portfolio struct {
	UserID   string    `json:"user_id"`
	Holdings []Holding `json:"holdings"`

	TotalInvestedValue float64 `json:"total_invested_value"`
	TotalCurrentValue  float64 `json:"total_current_value"`
	TotalPnL           float64 `json:"total_pnl"`
	TotalPnLPercentage float64 `json:"total_pnl_percentage"`

	AvailableFunds float64    `json:"available_funds"`
	LastSyncAt     time.Time  `json:"last_sync_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
	SyncMessage    string     `json:"sync_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewPortfolio returns the empty portfolio created at user registration.
func NewPortfolio(userID string, now time.Time) *Portfolio {
	return &Portfolio{
		UserID:     userID,
		Holdings:   []Holding{},
		SyncStatus: SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing the holdings slice.
func (p *Portfolio) Clone() *Portfolio {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Holdings = make([]Holding, len(p.Holdings))
	copy(cp.Holdings, p.Holdings)
	return &cp
}

// FindHolding returns the index of the holding with the given key, or -1.
func (p *Portfolio) FindHolding(key HoldingKey) int {
	for i := range p.Holdings {
		if p.Holdings[i].Key() == key {
			return i
		}
	}
	return -1
}

// Movers holds the best and worst performing holdings by P&L percentage.
type Movers struct {
	TopGainers []Holding `json:"top_gainers"`
	TopLosers  []Holding `json:"top_losers"`
}

func percentOf(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}
