package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
)

const (
	contactSenderCooldown       = 2 * time.Minute
	contactDailyLimitPerSender  = 20
	contactDailyLimitPerSite    = 50
	contactSenderIPMaxLength    = 64
	headerNameForwardedFor      = "X-Forwarded-For"
	forwardedForEntrySeparator  = ","
	errorValueRateLimited       = "rate_limit"
	errorValueMessageRejected   = "rejected"
	logEventContactIntakeFailed = "contact_intake_failed"
)

// ContactHandlers serves the public contact intake endpoint.
type ContactHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
	now      func() time.Time
}

// NewContactHandlers constructs a ContactHandlers instance.
func NewContactHandlers(database *gorm.DB, logger *zap.Logger) *ContactHandlers {
	return &ContactHandlers{
		database: database,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the handler clock. Intended for tests.
func (handlers *ContactHandlers) WithClock(clock func() time.Time) *ContactHandlers {
	if handlers == nil || clock == nil {
		return handlers
	}
	handlers.now = clock
	return handlers
}

type contactSendRequest struct {
	SiteID  string `json:"site_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	// Website is a honeypot field. Humans never see it, bots fill it in.
	Website string `json:"website"`
}

// Send records a visitor message for a published site, subject to spam and
// rate-limit checks.
func (handlers *ContactHandlers) Send(requestContext *gin.Context) {
	var request contactSendRequest
	if bindErr := requestContext.ShouldBindJSON(&request); bindErr != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	var site model.Site
	lookupErr := handlers.database.WithContext(requestContext.Request.Context()).
		Where("id = ? AND is_active = ?", request.SiteID, true).
		First(&site).Error
	if lookupErr != nil {
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			requestContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueSiteNotFound})
			return
		}
		handlers.logger.Error(logEventContactIntakeFailed, zap.Error(lookupErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}
	if site.PublishedAt == nil {
		requestContext.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueSiteNotFound})
		return
	}

	senderIP := handlers.senderIP(requestContext)
	currentTime := handlers.now()

	if request.Website != "" {
		handlers.recordSpam(requestContext, site.ID, site.OwnerUserID, request, senderIP)
		requestContext.JSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	message, messageErr := model.NewContactMessage(model.ContactMessageInput{
		SiteID:          site.ID,
		SiteOwnerUserID: site.OwnerUserID,
		SenderName:      request.Name,
		SenderEmail:     request.Email,
		MessageText:     request.Message,
		SenderIP:        senderIP,
	})
	if messageErr != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: messageErr.Error()})
		return
	}

	limitStatus, limitErr := handlers.checkLimits(requestContext, site.ID, senderIP, currentTime)
	if limitErr != nil {
		handlers.logger.Error(logEventContactIntakeFailed, zap.Error(limitErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}
	if limitStatus != 0 {
		requestContext.JSON(limitStatus, gin.H{jsonKeyError: errorValueRateLimited})
		return
	}

	if createErr := handlers.database.WithContext(requestContext.Request.Context()).Create(&message).Error; createErr != nil {
		handlers.logger.Error(logEventContactIntakeFailed, zap.Error(createErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	requestContext.JSON(http.StatusOK, gin.H{"ok": true})
}

// checkLimits enforces the sender cooldown plus the per-sender and per-site
// daily ceilings. It returns the rejecting HTTP status, or zero when the
// message may proceed.
func (handlers *ContactHandlers) checkLimits(requestContext *gin.Context, siteID string, senderIP string, currentTime time.Time) (int, error) {
	databaseContext := handlers.database.WithContext(requestContext.Request.Context())
	dayStart := model.UTCDate(currentTime)

	var recentFromSender int64
	cooldownErr := databaseContext.Model(&model.ContactMessage{}).
		Where("sender_ip = ? AND created_at > ?", senderIP, currentTime.Add(-contactSenderCooldown)).
		Count(&recentFromSender).Error
	if cooldownErr != nil {
		return 0, cooldownErr
	}
	if recentFromSender > 0 {
		return http.StatusTooManyRequests, nil
	}

	var senderToday int64
	senderErr := databaseContext.Model(&model.ContactMessage{}).
		Where("site_id = ? AND sender_ip = ? AND created_at >= ?", siteID, senderIP, dayStart).
		Count(&senderToday).Error
	if senderErr != nil {
		return 0, senderErr
	}
	if senderToday >= contactDailyLimitPerSender {
		return http.StatusTooManyRequests, nil
	}

	var siteToday int64
	siteErr := databaseContext.Model(&model.ContactMessage{}).
		Where("site_id = ? AND created_at >= ?", siteID, dayStart).
		Count(&siteToday).Error
	if siteErr != nil {
		return 0, siteErr
	}
	if siteToday >= contactDailyLimitPerSite {
		return http.StatusForbidden, nil
	}

	return 0, nil
}

// recordSpam keeps honeypot hits for review without counting them as real
// messages. Storage failures here are logged and swallowed.
func (handlers *ContactHandlers) recordSpam(requestContext *gin.Context, siteID string, ownerUserID string, request contactSendRequest, senderIP string) {
	spamMessage, spamErr := model.NewContactMessage(model.ContactMessageInput{
		SiteID:          siteID,
		SiteOwnerUserID: ownerUserID,
		SenderName:      request.Name,
		SenderEmail:     request.Email,
		MessageText:     request.Message,
		SenderIP:        senderIP,
	})
	if spamErr != nil {
		return
	}
	spamMessage.IsSpam = true
	if createErr := handlers.database.WithContext(requestContext.Request.Context()).Create(&spamMessage).Error; createErr != nil {
		handlers.logger.Warn(logEventContactIntakeFailed, zap.Error(createErr))
	}
}

// senderIP prefers the first X-Forwarded-For entry so the limit applies to
// the origin client behind a proxy, truncated to the stored column width.
func (handlers *ContactHandlers) senderIP(requestContext *gin.Context) string {
	forwarded := requestContext.GetHeader(headerNameForwardedFor)
	address := requestContext.ClientIP()
	if forwarded != "" {
		firstEntry := strings.TrimSpace(strings.Split(forwarded, forwardedForEntrySeparator)[0])
		if firstEntry != "" {
			address = firstEntry
		}
	}
	if len(address) > contactSenderIPMaxLength {
		address = address[:contactSenderIPMaxLength]
	}
	return address
}
