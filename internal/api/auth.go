package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/session"
	"go.uber.org/zap"
)

const (
	contextKeyCurrentUser = "api_current_user"
	authErrorUnauthorized = "unauthorized"
	logEventLoadSession   = "load_session"
	jsonKeyError          = "error"
)

// CurrentUser captures authenticated account metadata made available to handlers.
type CurrentUser struct {
	Email      string
	Name       string
	PictureURL string
}

// AuthManager resolves authenticated users from the OAuth session cookie.
type AuthManager struct {
	logger       *zap.Logger
	sessionStore *sessions.CookieStore
}

// NewAuthManager constructs an AuthManager backed by the GAuss session store.
func NewAuthManager(logger *zap.Logger) *AuthManager {
	return &AuthManager{
		logger:       logger,
		sessionStore: session.Store(),
	}
}

// RequireAuthenticatedJSON rejects unauthenticated requests with a JSON error.
func (authManager *AuthManager) RequireAuthenticatedJSON() gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		if _, ok := authManager.ensureUser(requestContext); !ok {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: authErrorUnauthorized})
			return
		}
		requestContext.Next()
	}
}

// RequireAuthenticatedWeb redirects unauthenticated requests to the login page.
func (authManager *AuthManager) RequireAuthenticatedWeb() gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		if _, ok := authManager.ensureUser(requestContext); !ok {
			requestContext.Redirect(http.StatusFound, constants.LoginPath)
			requestContext.Abort()
			return
		}
		requestContext.Next()
	}
}

// CurrentUserFromContext returns the resolved user stored on the request context.
func CurrentUserFromContext(requestContext *gin.Context) (*CurrentUser, bool) {
	value, exists := requestContext.Get(contextKeyCurrentUser)
	if !exists {
		return nil, false
	}
	currentUser, ok := value.(*CurrentUser)
	return currentUser, ok
}

func (authManager *AuthManager) ensureUser(requestContext *gin.Context) (*CurrentUser, bool) {
	if currentUser, exists := CurrentUserFromContext(requestContext); exists {
		return currentUser, true
	}

	sessionInstance, sessionErr := authManager.sessionStore.Get(requestContext.Request, constants.SessionName)
	if sessionErr != nil {
		authManager.logger.Warn(logEventLoadSession, zap.Error(sessionErr))
		return nil, false
	}

	email := extractString(sessionInstance.Values[constants.SessionKeyUserEmail])
	if email == "" {
		return nil, false
	}

	currentUser := &CurrentUser{
		Email:      email,
		Name:       extractString(sessionInstance.Values[constants.SessionKeyUserName]),
		PictureURL: extractString(sessionInstance.Values[constants.SessionKeyUserPicture]),
	}

	requestContext.Set(contextKeyCurrentUser, currentUser)
	return currentUser, true
}

func extractString(value interface{}) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
