package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/publish"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/quota"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/render"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/sanitize"
)

const (
	errorValueInvalidRequest = "invalid_request"
	errorValuePublishFailed  = "publish_failed"

	logEventPublishFailed = "publish_failed"
)

// PublishHandlers serves the authenticated publish operation.
type PublishHandlers struct {
	publisher *publish.Publisher
	logger    *zap.Logger
}

// NewPublishHandlers constructs a PublishHandlers instance.
func NewPublishHandlers(publisher *publish.Publisher, logger *zap.Logger) *PublishHandlers {
	return &PublishHandlers{
		publisher: publisher,
		logger:    logger,
	}
}

type publishRequest struct {
	Slug  string          `json:"slug"`
	HTML  string          `json:"html"`
	State json.RawMessage `json:"state"`
}

type publishResponse struct {
	URL string `json:"url"`
}

// Publish accepts a raw-HTML or structured-state publish request and returns
// the public URL on success.
func (handlers *PublishHandlers) Publish(requestContext *gin.Context) {
	currentUser, authenticated := CurrentUserFromContext(requestContext)
	if !authenticated {
		requestContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
		return
	}

	var request publishRequest
	if bindErr := requestContext.ShouldBindJSON(&request); bindErr != nil {
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidRequest})
		return
	}

	input := publish.PublishInput{
		Slug:    request.Slug,
		RawHTML: request.HTML,
	}
	if len(request.State) > 0 && string(request.State) != "null" {
		state, decodeErr := model.DecodeBuilderState(request.State)
		if decodeErr != nil {
			requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: decodeErr.Error()})
			return
		}
		input.State = &state
	}

	result, publishErr := handlers.publisher.Publish(requestContext.Request.Context(), currentUser.Email, input)
	if publishErr != nil {
		handlers.respondPublishError(requestContext, publishErr)
		return
	}

	requestContext.JSON(http.StatusOK, publishResponse{URL: result.URL})
}

// respondPublishError maps the pipeline's typed rejections onto HTTP
// responses. Anything unrecognized is logged and reported generically so
// internals never leak to the caller.
func (handlers *PublishHandlers) respondPublishError(requestContext *gin.Context, publishErr error) {
	var remoteErr *publish.RemoteError
	if errors.As(publishErr, &remoteErr) {
		// The content host's status and body pass through verbatim.
		requestContext.String(remoteErr.StatusCode, remoteErr.Body)
		return
	}

	switch {
	case errors.Is(publishErr, publish.ErrMissingIdentity):
		requestContext.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
	case errors.Is(publishErr, publish.ErrTrialExpired):
		requestContext.JSON(http.StatusForbidden, gin.H{jsonKeyError: publish.ErrTrialExpired.Error()})
	case errors.Is(publishErr, sanitize.ErrInvalidSlug),
		errors.Is(publishErr, sanitize.ErrEmptyHTML),
		errors.Is(publishErr, sanitize.ErrDocumentTooLarge),
		errors.Is(publishErr, sanitize.ErrTooMuchText),
		errors.Is(publishErr, sanitize.ErrImageURLTooLong),
		errors.Is(publishErr, render.ErrMissingRelayEndpoint),
		errors.Is(publishErr, quota.ErrSiteLimitReached),
		errors.Is(publishErr, quota.ErrEditLimitReached),
		errors.Is(publishErr, publish.ErrSiteNameTaken):
		requestContext.JSON(http.StatusBadRequest, gin.H{jsonKeyError: publishErr.Error()})
	default:
		handlers.logger.Error(logEventPublishFailed, zap.Error(publishErr))
		requestContext.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValuePublishFailed})
	}
}
