package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/pkg/logger"
	"github.com/mayfest/accounts/pkg/metrics"
)

const defaultStatsSpec = "@every 5m"

// Cleaner runs background maintenance on the accounts table. Stored OTP codes
// are never touched here: only verification and password reset clear them.
type Cleaner struct {
	db   *gorm.DB
	cron *cron.Cron
	log  *zap.Logger

	statsSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithStatsSchedule overrides the cron expression for the gauge refresh.
func WithStatsSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.statsSchedule = schedule
		}
	}
}

// NewCleaner constructs a Cleaner. A nil db disables every job.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		statsSchedule: defaultStatsSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.statsSchedule, func() {
		if _, err := RefreshAccountStats(context.Background(), c.db); err != nil {
			c.log.Warn("account stats refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule account stats: %w", err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every job sequentially. Used at startup, in tests and
// during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stats, err := RefreshAccountStats(ctx, c.db)
	if err != nil {
		return err
	}
	c.log.Debug("account stats refreshed",
		zap.Int64("pending", stats.Pending),
		zap.Int64("verified", stats.Verified),
		zap.Int64("inactive", stats.Inactive),
	)
	return nil
}

// AccountStats counts stored accounts by state.
type AccountStats struct {
	Pending  int64
	Verified int64
	Inactive int64
}

// RefreshAccountStats counts accounts and publishes them on the accounts gauge.
func RefreshAccountStats(ctx context.Context, db *gorm.DB) (AccountStats, error) {
	if db == nil {
		return AccountStats{}, errors.New("account stats: db is required")
	}

	var stats AccountStats
	counts := []struct {
		target *int64
		where  string
		args   []any
	}{
		{&stats.Pending, "is_active = ? AND is_email_verified = ?", []any{true, false}},
		{&stats.Verified, "is_active = ? AND is_email_verified = ?", []any{true, true}},
		{&stats.Inactive, "is_active = ?", []any{false}},
	}
	for _, q := range counts {
		if err := db.WithContext(ctx).Model(&models.Account{}).Where(q.where, q.args...).Count(q.target).Error; err != nil {
			return AccountStats{}, fmt.Errorf("account stats: %w", err)
		}
	}

	metrics.Accounts.WithLabelValues(string(models.StatePendingVerification)).Set(float64(stats.Pending))
	metrics.Accounts.WithLabelValues(string(models.StateVerified)).Set(float64(stats.Verified))
	metrics.Accounts.WithLabelValues("inactive").Set(float64(stats.Inactive))
	return stats, nil
}
