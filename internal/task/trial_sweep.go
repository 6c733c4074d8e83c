package task

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
)

const (
	// DefaultTrialSweepInterval is the nominal delay between sweeps.
	DefaultTrialSweepInterval = 24 * time.Hour
	// DefaultTrialSweepRetryBackoff is the shortened delay after a failed
	// sweep.
	DefaultTrialSweepRetryBackoff = 5 * time.Minute

	logEventTrialSweepFailed      = "trial_sweep_failed"
	logEventTrialSitesDeactivated = "trial_sites_deactivated"
	logFieldDeactivatedCount      = "deactivated"
)

// TrialSweepJob deactivates unpaid sites whose trial window has elapsed.
// The publish path re-checks expiry synchronously, so sweep lag never lets
// an expired site publish; the sweep only reconciles the active flag.
type TrialSweepJob struct {
	database *gorm.DB
	logger   *zap.Logger
	now      func() time.Time
}

// NewTrialSweepJob builds a TrialSweepJob.
func NewTrialSweepJob(database *gorm.DB, logger *zap.Logger) *TrialSweepJob {
	return &TrialSweepJob{
		database: database,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (job *TrialSweepJob) WithClock(clock func() time.Time) *TrialSweepJob {
	if clock != nil {
		job.now = clock
	}
	return job
}

// Run flips every expired, unpaid, still-active site inactive in one batch.
func (job *TrialSweepJob) Run(ctx context.Context) error {
	now := job.now().UTC()

	result := job.database.WithContext(ctx).
		Model(&model.Site{}).
		Where("is_paid = ? AND is_active = ? AND expires_at <= ?", false, true, now).
		Update("is_active", false)
	if result.Error != nil {
		if job.logger != nil {
			job.logger.Warn(logEventTrialSweepFailed, zap.Error(result.Error))
		}
		return result.Error
	}

	if result.RowsAffected > 0 && job.logger != nil {
		job.logger.Info(logEventTrialSitesDeactivated, zap.Int64(logFieldDeactivatedCount, result.RowsAffected))
	}
	return nil
}
