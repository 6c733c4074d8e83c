package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/gauss"
	"go.uber.org/zap"
)

const (
	headerXForwardedProto = "X-Forwarded-Proto"
	headerXForwardedHost  = "X-Forwarded-Host"
	headerValueSeparator  = ","
	urlSchemeHTTPS        = "https"

	logEventResolveHandlers = "resolve_oauth_handlers"
	createServiceError      = "create oauth service"
	createHandlersError     = "create oauth handlers"
	parseBaseURLError       = "parse public base url"
)

// Config captures dependencies for building the Google OAuth handlers.
type Config struct {
	GoogleClientID     string
	GoogleClientSecret string
	PublicBaseURL      string
	LocalRedirectPath  string
	Scopes             []string
	LoginTemplate      string
	Logger             *zap.Logger
}

// Handlers exposes the HTTP endpoints for Google sign-in. Callback URLs are
// rebuilt per request so the service works behind a reverse proxy regardless
// of the configured base.
type Handlers struct {
	configuration     Config
	configuredBaseURL *url.URL
	defaultHandlers   *gauss.Handlers
	handlerCache      map[string]*gauss.Handlers
	handlerCacheMutex sync.Mutex
	logger            *zap.Logger
}

// NewHandlers constructs a Handlers instance using GAuss primitives.
func NewHandlers(configuration Config) (*Handlers, error) {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL, parseErr := url.Parse(configuration.PublicBaseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("%s: %w", parseBaseURLError, parseErr)
	}

	defaultHandlers, buildErr := buildHandlers(configuration, configuration.PublicBaseURL)
	if buildErr != nil {
		return nil, buildErr
	}

	return &Handlers{
		configuration:     configuration,
		configuredBaseURL: baseURL,
		defaultHandlers:   defaultHandlers,
		handlerCache:      make(map[string]*gauss.Handlers),
		logger:            logger,
	}, nil
}

// RegisterRoutes wires the OAuth endpoints to the provided ServeMux.
func (handlers *Handlers) RegisterRoutes(mux *http.ServeMux) {
	defaultMux := http.NewServeMux()
	handlers.defaultHandlers.RegisterRoutes(defaultMux)

	mux.HandleFunc(constants.LoginPath, defaultMux.ServeHTTP)
	mux.HandleFunc(constants.GoogleAuthPath, handlers.handleGoogleAuth)
	mux.HandleFunc(constants.CallbackPath, handlers.handleCallback)
	mux.HandleFunc(constants.LogoutPath, handlers.defaultHandlers.Logout)
}

func (handlers *Handlers) handleGoogleAuth(responseWriter http.ResponseWriter, request *http.Request) {
	dynamicHandlers, resolutionErr := handlers.handlersForRequest(request)
	if resolutionErr != nil {
		handlers.logger.Warn(logEventResolveHandlers, zap.Error(resolutionErr))
		http.Error(responseWriter, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	dynamicHandlers.Login(responseWriter, request)
}

func (handlers *Handlers) handleCallback(responseWriter http.ResponseWriter, request *http.Request) {
	dynamicHandlers, resolutionErr := handlers.handlersForRequest(request)
	if resolutionErr != nil {
		handlers.logger.Warn(logEventResolveHandlers, zap.Error(resolutionErr))
		http.Error(responseWriter, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	dynamicHandlers.Callback(responseWriter, request)
}

// handlersForRequest returns OAuth handlers bound to the base URL the client
// actually reached, building and caching them on first use.
func (handlers *Handlers) handlersForRequest(request *http.Request) (*gauss.Handlers, error) {
	requestBase := handlers.baseForRequest(request)
	if requestBase == handlers.configuration.PublicBaseURL {
		return handlers.defaultHandlers, nil
	}

	handlers.handlerCacheMutex.Lock()
	defer handlers.handlerCacheMutex.Unlock()

	if cachedHandlers := handlers.handlerCache[requestBase]; cachedHandlers != nil {
		return cachedHandlers, nil
	}

	builtHandlers, buildErr := buildHandlers(handlers.configuration, requestBase)
	if buildErr != nil {
		return nil, buildErr
	}
	handlers.handlerCache[requestBase] = builtHandlers
	return builtHandlers, nil
}

func (handlers *Handlers) baseForRequest(request *http.Request) string {
	scheme := handlers.configuredBaseURL.Scheme
	if forwardedProto := firstHeaderValue(request.Header.Get(headerXForwardedProto)); forwardedProto != "" {
		scheme = strings.ToLower(forwardedProto)
	} else if request.TLS != nil {
		scheme = urlSchemeHTTPS
	}

	host := handlers.configuredBaseURL.Host
	if forwardedHost := firstHeaderValue(request.Header.Get(headerXForwardedHost)); forwardedHost != "" {
		host = forwardedHost
	} else if request.Host != "" {
		host = request.Host
	}

	baseCopy := *handlers.configuredBaseURL
	baseCopy.Scheme = scheme
	baseCopy.Host = host
	return baseCopy.String()
}

func buildHandlers(configuration Config, baseURL string) (*gauss.Handlers, error) {
	serviceInstance, serviceErr := gauss.NewService(
		configuration.GoogleClientID,
		configuration.GoogleClientSecret,
		baseURL,
		configuration.LocalRedirectPath,
		configuration.Scopes,
		configuration.LoginTemplate,
	)
	if serviceErr != nil {
		return nil, fmt.Errorf("%s: %w", createServiceError, serviceErr)
	}

	gaussHandlers, handlersErr := gauss.NewHandlers(serviceInstance)
	if handlersErr != nil {
		return nil, fmt.Errorf("%s: %w", createHandlersError, handlersErr)
	}
	return gaussHandlers, nil
}

func firstHeaderValue(rawValue string) string {
	for _, segment := range strings.Split(rawValue, headerValueSeparator) {
		if trimmedSegment := strings.TrimSpace(segment); trimmedSegment != "" {
			return trimmedSegment
		}
	}
	return ""
}
