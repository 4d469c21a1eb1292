// Package trading orchestrates broker calls, reconciliation and persistence
// for portfolio syncs, price refreshes and order placement.
package trading

import (
	"context"
	"time"

	"brokerdash/internal/broker"
)

// CredentialSource resolves the broker session to use for a user.
type CredentialSource interface {
	Credential(ctx context.Context, userID string) (broker.Credential, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context, userID string) (broker.Credential, error)

// Credential calls f.
func (f CredentialFunc) Credential(ctx context.Context, userID string) (broker.Credential, error) {
	return f(ctx, userID)
}

// Config tunes the sync services.
type Config struct {
	// PriceBatchSize is how many LTP calls run before pausing.
	PriceBatchSize int
	// PriceBatchDelay is the pause between batches, to stay under broker rate limits.
	PriceBatchDelay time.Duration
	// MoversLimit is the default number of gainers and losers in a summary.
	MoversLimit int
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() Config {
	return Config{
		PriceBatchSize:  20,
		PriceBatchDelay: time.Second,
		MoversLimit:     5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PriceBatchSize <= 0 {
		c.PriceBatchSize = d.PriceBatchSize
	}
	if c.PriceBatchDelay < 0 {
		c.PriceBatchDelay = 0
	}
	if c.MoversLimit <= 0 {
		c.MoversLimit = d.MoversLimit
	}
	return c
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
