package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/gauss"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/api"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/publish"
)

const (
	apiRoutePrefix            = "/api"
	apiRoutePublish           = "/publish"
	apiRouteSites             = "/sites"
	apiRouteSiteByID          = "/sites/:siteId"
	apiRouteSiteMarkPaid      = "/sites/:siteId/mark-paid"
	apiRouteSiteState         = "/sites/:siteId/state"
	apiRouteSiteMessages      = "/sites/:siteId/messages"
	apiRouteMe                = "/me"
	apiRouteMeRelayEndpoint   = "/me/relay-endpoint"
	publicRouteContactSend    = "/api/contact/send"
	corsOriginWildcard        = "*"
	corsHeaderAuthorization   = "Authorization"
	corsHeaderContentType     = "Content-Type"
	httpMethodGet             = "GET"
	httpMethodPost            = "POST"
	httpMethodPut             = "PUT"
	httpMethodDelete          = "DELETE"
	httpMethodOptions         = "OPTIONS"
	corsPreflightCacheMaxAge  = 12 * time.Hour
	authenticatedCORSDisabled = false
)

var (
	corsAllowedMethods = []string{httpMethodGet, httpMethodPost, httpMethodPut, httpMethodDelete, httpMethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

// buildRouter assembles the gin engine with the public, authenticated and
// OAuth routes.
func buildRouter(database *gorm.DB, logger *zap.Logger, publisher *publish.Publisher, serverConfig ServerConfig) (*gin.Engine, error) {
	oauthHandlers, oauthErr := auth.NewHandlers(auth.Config{
		GoogleClientID:     serverConfig.GoogleClientID,
		GoogleClientSecret: serverConfig.GoogleClientSecret,
		PublicBaseURL:      serverConfig.PublicBaseURL,
		LocalRedirectPath:  "/",
		Scopes:             gauss.ScopeStrings(gauss.DefaultScopes),
		Logger:             logger,
	})
	if oauthErr != nil {
		return nil, oauthErr
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(logger))

	oauthMux := http.NewServeMux()
	oauthHandlers.RegisterRoutes(oauthMux)
	for _, oauthPath := range []string{constants.LoginPath, constants.GoogleAuthPath, constants.CallbackPath, constants.LogoutPath} {
		router.Any(oauthPath, gin.WrapH(oauthMux))
	}

	authManager := api.NewAuthManager(logger)
	publishHandlers := api.NewPublishHandlers(publisher, logger)
	siteHandlers := api.NewSiteHandlers(database, logger)
	accountHandlers := api.NewAccountHandlers(database, logger)
	contactHandlers := api.NewContactHandlers(database, logger)

	publicGroup := router.Group("/")
	publicGroup.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: authenticatedCORSDisabled,
		MaxAge:           corsPreflightCacheMaxAge,
	}))
	publicGroup.POST(publicRouteContactSend, contactHandlers.Send)

	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.Use(authManager.RequireAuthenticatedJSON())
	apiGroup.POST(apiRoutePublish, publishHandlers.Publish)
	apiGroup.GET(apiRouteSites, siteHandlers.ListSites)
	apiGroup.DELETE(apiRouteSiteByID, siteHandlers.DeleteSite)
	apiGroup.POST(apiRouteSiteMarkPaid, siteHandlers.MarkPaid)
	apiGroup.PUT(apiRouteSiteState, siteHandlers.SaveState)
	apiGroup.GET(apiRouteSiteState, siteHandlers.GetState)
	apiGroup.GET(apiRouteSiteMessages, siteHandlers.ListMessages)
	apiGroup.GET(apiRouteMe, accountHandlers.Me)
	apiGroup.PUT(apiRouteMeRelayEndpoint, accountHandlers.UpdateRelayEndpoint)

	return router, nil
}
