// Package quota enforces the per-user site ceiling and the per-site daily
// edit ceiling over the persistence store.
package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
)

const (
	// MaxSitesPerUser caps how many sites one user may own. The ceiling
	// applies to creating a new site, never to editing an existing one.
	MaxSitesPerUser = 3
	// MaxEditsPerDayPerSite caps successful publishes per site per UTC day.
	MaxEditsPerDayPerSite = 3
)

var (
	ErrSiteLimitReached = errors.New("site_limit")
	ErrEditLimitReached = errors.New("edit_limit")
)

// Tracker performs quota bookkeeping against the database.
type Tracker struct {
	database *gorm.DB
}

// NewTracker constructs a Tracker.
func NewTracker(database *gorm.DB) *Tracker {
	return &Tracker{database: database}
}

// CheckSiteCeiling rejects new-site creation once the user owns the maximum
// number of sites.
func (tracker *Tracker) CheckSiteCeiling(ctx context.Context, ownerUserID string) error {
	var siteCount int64
	countErr := tracker.database.WithContext(ctx).
		Model(&model.Site{}).
		Where("owner_user_id = ?", ownerUserID).
		Count(&siteCount).Error
	if countErr != nil {
		return countErr
	}
	if siteCount >= MaxSitesPerUser {
		return ErrSiteLimitReached
	}
	return nil
}

// CheckDailyEditCeiling rejects a publish once the site has exhausted its
// edits for the given UTC day.
func (tracker *Tracker) CheckDailyEditCeiling(ctx context.Context, siteID string, day time.Time) error {
	editsUsed, usageErr := tracker.EditsUsed(ctx, siteID, day)
	if usageErr != nil {
		return usageErr
	}
	if editsUsed >= MaxEditsPerDayPerSite {
		return ErrEditLimitReached
	}
	return nil
}

// EditsUsed returns the edit count recorded for the site on the given UTC
// day; a missing row counts as zero.
func (tracker *Tracker) EditsUsed(ctx context.Context, siteID string, day time.Time) (int, error) {
	var usage model.SiteDailyUsage
	lookupErr := tracker.database.WithContext(ctx).
		Where("site_id = ? AND date = ?", siteID, model.UTCDate(day)).
		First(&usage).Error
	if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if lookupErr != nil {
		return 0, lookupErr
	}
	return usage.EditsCount, nil
}

// RecordEdit creates the day's usage row at count one or increments it.
// Callers invoke this only after the remote publish write succeeded, so
// failed attempts are never counted. The unique (site, date) index turns a
// racing double-create into an increment.
func (tracker *Tracker) RecordEdit(ctx context.Context, siteID string, day time.Time) error {
	freshUsage, buildErr := model.NewSiteDailyUsage(siteID, day)
	if buildErr != nil {
		return buildErr
	}

	createErr := tracker.database.WithContext(ctx).Create(&freshUsage).Error
	if createErr == nil {
		return nil
	}
	if !isUniqueViolation(createErr) {
		return createErr
	}

	// The day's row already exists; bump it in place.
	return tracker.database.WithContext(ctx).
		Model(&model.SiteDailyUsage{}).
		Where("site_id = ? AND date = ?", siteID, model.UTCDate(day)).
		UpdateColumn("edits_count", gorm.Expr("edits_count + 1")).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
