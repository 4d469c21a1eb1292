// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"strings"
	"time"

	"brokerdash/internal/models"
)

// PortfolioStore persists one portfolio document per user.
type PortfolioStore interface {
	// GetPortfolio returns errors.ErrDataNotFound when the user has none.
	GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error)
	SavePortfolio(ctx context.Context, p *models.Portfolio) error
}

// OrderStore persists order records keyed by user and client id. A broker
// order id, when present, is unique per user.
type OrderStore interface {
	// CreateOrder returns errors.ErrAlreadyExists if the user already has an
	// order with the same id or broker id.
	CreateOrder(ctx context.Context, o *models.Order) error
	// SaveOrder inserts or replaces the user's order with the same id.
	SaveOrder(ctx context.Context, o *models.Order) error
	// GetOrder looks an order up by client id, then by broker order id.
	GetOrder(ctx context.Context, userID, id string) (*models.Order, error)
	// ListOrders returns matching orders, newest first.
	ListOrders(ctx context.Context, userID string, filter OrderFilter) ([]models.Order, error)
}

// UserStore persists dashboard accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

// SyncStore tracks when background jobs last ran.
type SyncStore interface {
	GetLastSync(ctx context.Context, key string) (time.Time, error)
	SetLastSync(ctx context.Context, key string, t time.Time) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	PortfolioStore
	OrderStore
	UserStore
	SyncStore
	Close() error
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Status models.OrderStatus
	Symbol string
	Since  time.Time
	Limit  int
}

// Matches reports whether o passes the filter, ignoring Limit.
func (f OrderFilter) Matches(o *models.Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Symbol != "" && !strings.EqualFold(o.Symbol, f.Symbol) {
		return false
	}
	if !f.Since.IsZero() && o.OrderTime.Before(f.Since) {
		return false
	}
	return true
}

// sortableTime is a fixed-width UTC layout so stored timestamps sort as text.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}
