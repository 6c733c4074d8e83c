package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidUsageSiteID = errors.New("invalid_usage_site_id")

// SiteDailyUsage counts successful publishes for one site on one UTC day.
// Rows are never decremented; the unique (site, date) index arbitrates
// racing first-publish-of-the-day creates.
type SiteDailyUsage struct {
	ID         string    `gorm:"primaryKey;size:36"`
	SiteID     string    `gorm:"not null;size:36;uniqueIndex:idx_site_daily_usages_site_date"`
	Date       time.Time `gorm:"not null;uniqueIndex:idx_site_daily_usages_site_date"`
	EditsCount int       `gorm:"not null;default:0"`
}

// NewSiteDailyUsage constructs the first usage row of a day at count one.
func NewSiteDailyUsage(siteID string, day time.Time) (SiteDailyUsage, error) {
	trimmedSiteID := strings.TrimSpace(siteID)
	if trimmedSiteID == "" {
		return SiteDailyUsage{}, ErrInvalidUsageSiteID
	}

	return SiteDailyUsage{
		ID:         uuid.NewString(),
		SiteID:     trimmedSiteID,
		Date:       UTCDate(day),
		EditsCount: 1,
	}, nil
}

// UTCDate truncates an instant to UTC midnight. The day boundary has no
// rollover grace period.
func UTCDate(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
