package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SiteNameMaxLength bounds the normalized slug length.
	SiteNameMaxLength = 50
	// TrialDuration is the unpaid publishing window granted at site creation.
	TrialDuration = 48 * time.Hour

	siteContentPathMaxLength = 256
)

var (
	ErrInvalidSiteOwner = errors.New("invalid_site_owner")
	ErrInvalidSiteName  = errors.New("invalid_site_name")
)

// Site is one mini-site owned by a user. The slug is globally unique; the
// (owner, slug) pair carries a second unique index as a defensive duplicate
// of the global one.
type Site struct {
	ID               string    `gorm:"primaryKey;size:36"`
	OwnerUserID      string    `gorm:"not null;size:36;index;uniqueIndex:idx_sites_owner_name"`
	SiteName         string    `gorm:"not null;size:50;uniqueIndex;uniqueIndex:idx_sites_owner_name"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	ExpiresAt        time.Time `gorm:"not null"`
	PublishedAt      *time.Time
	IsPaid           bool   `gorm:"not null;default:false"`
	IsActive         bool   `gorm:"not null;default:false"`
	ContentPath      string `gorm:"size:256"`
	BuilderStateJSON string `gorm:"type:text"`

	DailyUsages     []SiteDailyUsage `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE"`
	ContactMessages []ContactMessage `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE"`
}

// NewSite constructs a Site in its unpublished draft state with the trial
// clock seeded from the provided creation time.
func NewSite(ownerUserID string, siteName string, createdAt time.Time) (Site, error) {
	owner := strings.TrimSpace(ownerUserID)
	if owner == "" {
		return Site{}, ErrInvalidSiteOwner
	}

	name := strings.TrimSpace(siteName)
	if name == "" || len(name) > SiteNameMaxLength {
		return Site{}, ErrInvalidSiteName
	}

	return Site{
		ID:          uuid.NewString(),
		OwnerUserID: owner,
		SiteName:    name,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(TrialDuration),
		IsPaid:      false,
		IsActive:    false,
	}, nil
}

// Publishable reports whether the site may receive a publish at the given
// instant. Paid sites bypass the trial clock permanently.
func (site Site) Publishable(now time.Time) bool {
	if site.IsPaid {
		return true
	}
	return now.Before(site.ExpiresAt)
}
