package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/store"
	"brokerdash/internal/trading"
	"brokerdash/pkg/utils"
)

// LastRefreshKey is the sync-status key stamped after each refresh run.
const LastRefreshKey = "price_refresh"

// LinkedUserLister lists users with a usable broker session.
type LinkedUserLister interface {
	LinkedUsers(ctx context.Context) ([]string, error)
}

// PriceRefresher refreshes one user's portfolio prices.
type PriceRefresher interface {
	RefreshPrices(ctx context.Context, userID string) (*trading.RefreshResult, error)
}

// RefreshSummary reports one run of the price refresh job.
type RefreshSummary struct {
	Users     int `json:"users"`
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// PriceRefreshJob refreshes prices for every linked user, one user at a
// time, through the same per-user guard as interactive requests.
type PriceRefreshJob struct {
	users           LinkedUserLister
	refresher       PriceRefresher
	status          store.SyncStore
	marketHoursOnly bool
	log             zerolog.Logger
	now             func() time.Time
	marketOpen      func(time.Time) bool
}

// NewPriceRefreshJob creates the job. When marketHoursOnly is set, runs
// outside NSE trading hours do nothing.
func NewPriceRefreshJob(users LinkedUserLister, refresher PriceRefresher, status store.SyncStore, marketHoursOnly bool, log zerolog.Logger) *PriceRefreshJob {
	return &PriceRefreshJob{
		users:           users,
		refresher:       refresher,
		status:          status,
		marketHoursOnly: marketHoursOnly,
		log:             log.With().Str("job", "price_refresh").Logger(),
		now:             time.Now,
		marketOpen: func(t time.Time) bool {
			return utils.MarketStatusAt(t) == models.MarketOpen
		},
	}
}

// Name implements Job.
func (j *PriceRefreshJob) Name() string { return "price_refresh" }

// Run implements Job.
func (j *PriceRefreshJob) Run(ctx context.Context) error {
	summary, err := j.RunOnce(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d price refreshes failed", summary.Failed, summary.Users)
	}
	return nil
}

// RunOnce refreshes every linked user and stamps the last refresh time.
// Users that are busy, unlinked or have no portfolio are skipped.
func (j *PriceRefreshJob) RunOnce(ctx context.Context) (*RefreshSummary, error) {
	start := j.now()
	if j.marketHoursOnly && !j.marketOpen(start) {
		j.log.Debug().Msg("Market closed, skipping price refresh")
		return &RefreshSummary{}, nil
	}

	ids, err := j.users.LinkedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}

	summary := &RefreshSummary{Users: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := j.refresher.RefreshPrices(ctx, id)
		switch {
		case err == nil:
			summary.Refreshed++
			j.log.Debug().Str("user_id", id).Int("updated", result.Updated).Int("failed", result.Failed).Msg("Prices refreshed")
		case skippable(err):
			summary.Skipped++
			j.log.Debug().Err(err).Str("user_id", id).Msg("Skipping price refresh")
		case ctx.Err() != nil:
			return summary, ctx.Err()
		default:
			summary.Failed++
			j.log.Warn().Err(err).Str("user_id", id).Msg("Price refresh failed")
		}
	}

	if err := j.status.SetLastSync(ctx, LastRefreshKey, j.now()); err != nil {
		j.log.Warn().Err(err).Msg("Failed to record refresh time")
	}

	j.log.Info().
		Int("users", summary.Users).
		Int("refreshed", summary.Refreshed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", j.now().Sub(start)).
		Msg("Price refresh run finished")
	return summary, nil
}

func skippable(err error) bool {
	return apperrors.Is(err, apperrors.ErrSyncInProgress) ||
		apperrors.Is(err, apperrors.ErrBrokerNotLinked) ||
		apperrors.Is(err, apperrors.ErrSessionExpired) ||
		apperrors.Is(err, apperrors.ErrDataNotFound)
}
