package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/quota"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/storage"
)

const (
	routeParameterSiteID = "siteId"

	errorValueSiteNotFound = "site_not_found"
	errorValueInvalidState = "invalid_state"

	emptyBuilderStateDocument = "{}"

	logEventSiteDeleteFailed = "site_delete_failed"
	logEventSiteListFailed   = "site_list_failed"
)

// SiteHandlers serves the authenticated site-management endpoints.
type SiteHandlers struct {
	database     *gorm.DB
	logger       *zap.Logger
	quotaTracker *quota.Tracker
	now          func() time.Time
}

// NewSiteHandlers constructs a SiteHandlers instance.
func NewSiteHandlers(database *gorm.DB, logger *zap.Logger) *SiteHandlers {
	return &SiteHandlers{
		database:     database,
		logger:       logger,
		quotaTracker: quota.NewTracker(database),
		now:          time.Now,
	}
}

// WithClock overrides the handler clock. Intended for tests.
func (handlers *SiteHandlers) WithClock(clock func() time.Time) *SiteHandlers {
	if handlers == nil || clock == nil {
		return handlers
	}
	handlers.now = clock
	return handlers
}

type siteSummary struct {
	ID                  string     `json:"id"`
	SiteName            string     `json:"site_name"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
	IsPaid              bool       `json:"is_paid"`
	IsActive            bool       `json:"is_active"`
	ContentPath         string     `json:"content_path,omitempty"`
	EditsUsedToday      int        `json:"edits_used_today"`
	EditsRemainingToday int        `json:"edits_remaining_today"`
}

type siteListResponse struct {
	Sites          []siteSummary `json:"sites"`
	MaxSites       int           `json:"max_sites"`
	RemainingSites int           `json:"remaining_sites"`
}

// ListSites returns the caller's sites with per-day edit headroom.
func (handlers *SiteHandlers) ListSites(requestContext *gin.Context) {
	currentUser, authenticated := CurrentUserFromContext(requestContext)
	if !authenticated {
		requestContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	ownerUser, ownerErr := storage.EnsureUserByEmail(requestContext.Request.Context(), handlers.database, currentUser.Email)
	if ownerErr != nil {
		handlers.logger.Error(logEventSiteListFailed, zap.Error(ownerErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	var sites []model.Site
	listErr := handlers.database.WithContext(requestContext.Request.Context()).
		Where("owner_user_id = ?", ownerUser.ID).
		Order("created_at ASC, site_name ASC").
		Find(&sites).Error
	if listErr != nil {
		handlers.logger.Error(logEventSiteListFailed, zap.Error(listErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	today := model.UTCDate(handlers.now())
	summaries := make([]siteSummary, 0, len(sites))
	for _, site := range sites {
		editsUsed, usageErr := handlers.quotaTracker.EditsUsed(requestContext.Request.Context(), site.ID, today)
		if usageErr != nil {
			handlers.logger.Error(logEventSiteListFailed, zap.Error(usageErr))
			requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
			return
		}
		remaining := quota.MaxEditsPerDayPerSite - editsUsed
		if remaining < 0 {
			remaining = 0
		}
		summaries = append(summaries, siteSummary{
			ID:                  site.ID,
			SiteName:            site.SiteName,
			CreatedAt:           site.CreatedAt,
			ExpiresAt:           site.ExpiresAt,
			PublishedAt:         site.PublishedAt,
			IsPaid:              site.IsPaid,
			IsActive:            site.IsActive,
			ContentPath:         site.ContentPath,
			EditsUsedToday:      editsUsed,
			EditsRemainingToday: remaining,
		})
	}

	remainingSites := quota.MaxSitesPerUser - len(sites)
	if remainingSites < 0 {
		remainingSites = 0
	}
	requestContext.JSON(http.StatusOK, siteListResponse{
		Sites:          summaries,
		MaxSites:       quota.MaxSitesPerUser,
		RemainingSites: remainingSites,
	})
}

// DeleteSite removes one of the caller's sites along with its usage counters
// and contact messages.
func (handlers *SiteHandlers) DeleteSite(requestContext *gin.Context) {
	site, found := handlers.ownedSite(requestContext)
	if !found {
		return
	}

	deleteErr := handlers.database.WithContext(requestContext.Request.Context()).Transaction(func(transaction *gorm.DB) error {
		if usageErr := transaction.Where("site_id = ?", site.ID).Delete(&model.SiteDailyUsage{}).Error; usageErr != nil {
			return usageErr
		}
		if messageErr := transaction.Where("site_id = ?", site.ID).Delete(&model.ContactMessage{}).Error; messageErr != nil {
			return messageErr
		}
		return transaction.Delete(&model.Site{}, "id = ?", site.ID).Error
	})
	if deleteErr != nil {
		handlers.logger.Error(logEventSiteDeleteFailed, zap.Error(deleteErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	requestContext.Status(http.StatusNoContent)
}

type markPaidResponse struct {
	SiteID string `json:"site_id"`
	IsPaid bool   `json:"is_paid"`
}

// MarkPaid flips a site into the paid tier, lifting its trial expiry.
func (handlers *SiteHandlers) MarkPaid(requestContext *gin.Context) {
	site, found := handlers.ownedSite(requestContext)
	if !found {
		return
	}

	updateErr := handlers.database.WithContext(requestContext.Request.Context()).
		Model(&model.Site{}).
		Where("id = ?", site.ID).
		Updates(map[string]any{"is_paid": true, "is_active": true}).Error
	if updateErr != nil {
		handlers.logger.Error(logEventSiteListFailed, zap.Error(updateErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	requestContext.JSON(http.StatusOK, markPaidResponse{SiteID: site.ID, IsPaid: true})
}

// SaveState stores the builder's working document for a site. The payload is
// kept verbatim, only well-formedness is enforced.
func (handlers *SiteHandlers) SaveState(requestContext *gin.Context) {
	site, found := handlers.ownedSite(requestContext)
	if !found {
		return
	}

	rawState, readErr := requestContext.GetRawData()
	if readErr != nil || !json.Valid(rawState) {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidState})
		return
	}

	updateErr := handlers.database.WithContext(requestContext.Request.Context()).
		Model(&model.Site{}).
		Where("id = ?", site.ID).
		Update("builder_state_json", string(rawState)).Error
	if updateErr != nil {
		handlers.logger.Error(logEventSiteListFailed, zap.Error(updateErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	requestContext.Status(http.StatusNoContent)
}

// GetState returns the stored builder document, or an empty object when the
// site has never been saved.
func (handlers *SiteHandlers) GetState(requestContext *gin.Context) {
	site, found := handlers.ownedSite(requestContext)
	if !found {
		return
	}

	document := site.BuilderStateJSON
	if document == "" {
		document = emptyBuilderStateDocument
	}
	requestContext.Data(http.StatusOK, "application/json; charset=utf-8", []byte(document))
}

type contactMessageSummary struct {
	ID          string    `json:"id"`
	SenderName  string    `json:"sender_name"`
	SenderEmail string    `json:"sender_email"`
	MessageText string    `json:"message_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListMessages returns a site's non-spam contact messages, newest first.
func (handlers *SiteHandlers) ListMessages(requestContext *gin.Context) {
	site, found := handlers.ownedSite(requestContext)
	if !found {
		return
	}

	var messages []model.ContactMessage
	listErr := handlers.database.WithContext(requestContext.Request.Context()).
		Where("site_id = ? AND is_spam = ?", site.ID, false).
		Order("created_at DESC").
		Find(&messages).Error
	if listErr != nil {
		handlers.logger.Error(logEventSiteListFailed, zap.Error(listErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	summaries := make([]contactMessageSummary, 0, len(messages))
	for _, message := range messages {
		summaries = append(summaries, contactMessageSummary{
			ID:          message.ID,
			SenderName:  message.SenderName,
			SenderEmail: message.SenderEmail,
			MessageText: message.MessageText,
			CreatedAt:   message.CreatedAt,
		})
	}
	requestContext.JSON(http.StatusOK, gin.H{"messages": summaries})
}

// ownedSite resolves the :siteId route parameter to a site owned by the
// session user. It writes the error response itself when the lookup fails.
func (handlers *SiteHandlers) ownedSite(requestContext *gin.Context) (model.Site, bool) {
	currentUser, authenticated := CurrentUserFromContext(requestContext)
	if !authenticated {
		requestContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return model.Site{}, false
	}

	ownerUser, ownerErr := storage.EnsureUserByEmail(requestContext.Request.Context(), handlers.database, currentUser.Email)
	if ownerErr != nil {
		handlers.logger.Error(logEventSiteListFailed, zap.Error(ownerErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return model.Site{}, false
	}

	siteID := requestContext.Param(routeParameterSiteID)
	var site model.Site
	lookupErr := handlers.database.WithContext(requestContext.Request.Context()).
		Where("id = ? AND owner_user_id = ?", siteID, ownerUser.ID).
		First(&site).Error
	if lookupErr != nil {
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			requestContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueSiteNotFound})
			return model.Site{}, false
		}
		handlers.logger.Error(logEventSiteListFailed, zap.Error(lookupErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return model.Site{}, false
	}
	return site, true
}
