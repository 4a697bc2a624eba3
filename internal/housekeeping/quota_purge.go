// Package housekeeping runs low-frequency maintenance tasks that don't
// belong on the claim/dispatch hot path (§4.6): currently just pruning
// stale daily quota-usage rows so the table doesn't grow unbounded.
package housekeeping

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// quotaPurger is the subset of *store.Store the purge service needs.
type quotaPurger interface {
	QuotaPurge(ctx context.Context, olderThanDays int) (int64, error)
}

// QuotaPurgeConfig holds the tunables for one purge service instance.
type QuotaPurgeConfig struct {
	// Interval is how often the purge runs.
	Interval time.Duration
	// RetentionDays is how many days of quota history to keep.
	RetentionDays int
}

// DefaultQuotaPurgeConfig returns production defaults: once a day,
// keeping 7 days of quota history (§4.6's quota_purge(older_than_days)).
func DefaultQuotaPurgeConfig() QuotaPurgeConfig {
	return QuotaPurgeConfig{Interval: 24 * time.Hour, RetentionDays: 7}
}

// QuotaPurge is a suture.Service that periodically deletes quota-usage
// rows older than its configured retention window.
type QuotaPurge struct {
	cfg    QuotaPurgeConfig
	store  quotaPurger
	logger zerolog.Logger
}

// NewQuotaPurge builds a QuotaPurge service.
func NewQuotaPurge(cfg QuotaPurgeConfig, s quotaPurger, logger zerolog.Logger) *QuotaPurge {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	return &QuotaPurge{cfg: cfg, store: s, logger: logger.With().Str("component", "quota-purge").Logger()}
}

// Serve implements suture.Service: it ticks every cfg.Interval until ctx
// is canceled. Unlike the sync push loop, it does not run immediately on
// start — a fresh process has nothing stale to purge yet.
func (q *QuotaPurge) Serve(ctx context.Context) error {
	q.logger.Info().Dur("interval", q.cfg.Interval).Int("retention_days", q.cfg.RetentionDays).Msg("quota purge starting")
	defer q.logger.Info().Msg("quota purge stopped")

	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.runOnce(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *QuotaPurge) runOnce(ctx context.Context) {
	deleted, err := q.store.QuotaPurge(ctx, q.cfg.RetentionDays)
	if err != nil {
		q.logger.Error().Err(err).Msg("quota purge failed")
		return
	}
	q.logger.Info().Int64("rows_deleted", deleted).Msg("quota purge complete")
}

// String implements fmt.Stringer for suture's logging.
func (q *QuotaPurge) String() string {
	return "housekeeping-quota-purge"
}
