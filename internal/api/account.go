package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/sanitize"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/storage"
)

const logEventAccountUpdateFailed = "account_update_failed"

// AccountHandlers serves the authenticated account endpoints.
type AccountHandlers struct {
	database *gorm.DB
	logger   *zap.Logger
}

// NewAccountHandlers constructs an AccountHandlers instance.
func NewAccountHandlers(database *gorm.DB, logger *zap.Logger) *AccountHandlers {
	return &AccountHandlers{
		database: database,
		logger:   logger,
	}
}

type accountResponse struct {
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	PictureURL    string `json:"picture_url,omitempty"`
	RelayEndpoint string `json:"relay_endpoint,omitempty"`
}

// Me returns the session user's profile and stored relay endpoint.
func (handlers *AccountHandlers) Me(requestContext *gin.Context) {
	currentUser, authenticated := CurrentUserFromContext(requestContext)
	if !authenticated {
		requestContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	accountUser, accountErr := storage.EnsureUserByEmail(requestContext.Request.Context(), handlers.database, currentUser.Email)
	if accountErr != nil {
		handlers.logger.Error(logEventAccountUpdateFailed, zap.Error(accountErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	requestContext.JSON(http.StatusOK, accountResponse{
		Email:         accountUser.Email,
		Name:          currentUser.Name,
		PictureURL:    currentUser.PictureURL,
		RelayEndpoint: accountUser.RelayEndpoint,
	})
}

type relayEndpointRequest struct {
	RelayEndpoint string `json:"relay_endpoint"`
}

// UpdateRelayEndpoint stores the account-wide form relay endpoint used by
// rendered contact forms. An empty value clears it.
func (handlers *AccountHandlers) UpdateRelayEndpoint(requestContext *gin.Context) {
	currentUser, authenticated := CurrentUserFromContext(requestContext)
	if !authenticated {
		requestContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	var request relayEndpointRequest
	if bindErr := requestContext.ShouldBindJSON(&request); bindErr != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	storedEndpoint := ""
	if request.RelayEndpoint != "" {
		validatedEndpoint, validationErr := sanitize.ValidateRelayEndpoint(request.RelayEndpoint)
		if validationErr != nil {
			requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: validationErr.Error()})
			return
		}
		storedEndpoint = validatedEndpoint
	}

	accountUser, accountErr := storage.EnsureUserByEmail(requestContext.Request.Context(), handlers.database, currentUser.Email)
	if accountErr != nil {
		handlers.logger.Error(logEventAccountUpdateFailed, zap.Error(accountErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	updateErr := handlers.database.WithContext(requestContext.Request.Context()).
		Model(&model.User{}).
		Where("id = ?", accountUser.ID).
		Update("relay_endpoint", storedEndpoint).Error
	if updateErr != nil {
		handlers.logger.Error(logEventAccountUpdateFailed, zap.Error(updateErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	requestContext.JSON(http.StatusOK, gin.H{"relay_endpoint": storedEndpoint})
}
