package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/session"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/api"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/publish"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/testutil"
)

const (
	testSessionSecretValue = "12345678901234567890123456789012"
	testOwnerEmailValue    = "owner@example.com"
	testOwnerNameValue     = "Site Owner"
	testOtherEmailValue    = "rival@example.com"
	testPagesBaseValue     = "https://acme.github.io/minisites/"
	testRawDocumentValue   = "<html><body><p>hello world</p></body></html>"
)

type fakeRemoteStore struct {
	calls    int
	lastPath string
	lastBody string
	failWith error
}

func (store *fakeRemoteStore) Publish(_ context.Context, path string, content string, _ string) error {
	store.calls++
	store.lastPath = path
	store.lastBody = content
	return store.failWith
}

type apiHarness struct {
	database *gorm.DB
	remote   *fakeRemoteStore
	router   *gin.Engine
	clock    time.Time
}

func newAPIHarness(testingT *testing.T) *apiHarness {
	testingT.Helper()

	session.NewSession([]byte(testSessionSecretValue))
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	harness := &apiHarness{
		database: testutil.OpenMigratedDatabase(testingT),
		remote:   &fakeRemoteStore{},
		clock:    time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC),
	}

	publisher := publish.NewPublisher(harness.database, logger, harness.remote, testPagesBaseValue).
		WithClock(func() time.Time { return harness.clock })

	authManager := api.NewAuthManager(logger)
	publishHandlers := api.NewPublishHandlers(publisher, logger)
	siteHandlers := api.NewSiteHandlers(harness.database, logger).WithClock(func() time.Time { return harness.clock })
	accountHandlers := api.NewAccountHandlers(harness.database, logger)
	contactHandlers := api.NewContactHandlers(harness.database, logger)

	router := gin.New()
	router.POST("/api/contact/send", contactHandlers.Send)

	apiGroup := router.Group("/api")
	apiGroup.Use(authManager.RequireAuthenticatedJSON())
	apiGroup.POST("/publish", publishHandlers.Publish)
	apiGroup.GET("/sites", siteHandlers.ListSites)
	apiGroup.DELETE("/sites/:siteId", siteHandlers.DeleteSite)
	apiGroup.POST("/sites/:siteId/mark-paid", siteHandlers.MarkPaid)
	apiGroup.PUT("/sites/:siteId/state", siteHandlers.SaveState)
	apiGroup.GET("/sites/:siteId/state", siteHandlers.GetState)
	apiGroup.GET("/sites/:siteId/messages", siteHandlers.ListMessages)
	apiGroup.GET("/me", accountHandlers.Me)
	apiGroup.PUT("/me/relay-endpoint", accountHandlers.UpdateRelayEndpoint)

	harness.router = router
	return harness
}

func createAuthenticatedSessionCookie(testingT *testing.T, email string, name string) *http.Cookie {
	testingT.Helper()

	store := session.Store()
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()

	sessionInstance, sessionErr := store.Get(request, constants.SessionName)
	require.NoError(testingT, sessionErr)

	sessionInstance.Values[constants.SessionKeyUserEmail] = email
	sessionInstance.Values[constants.SessionKeyUserName] = name
	sessionInstance.Values[constants.SessionKeyUserPicture] = ""

	require.NoError(testingT, sessionInstance.Save(request, recorder))

	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == constants.SessionName {
			return cookie
		}
	}
	require.FailNow(testingT, "session cookie not found in recorder")
	return nil
}

func (harness *apiHarness) request(testingT *testing.T, method string, target string, payload any, authenticatedEmail string) *httptest.ResponseRecorder {
	testingT.Helper()

	var body *bytes.Reader
	if payload != nil {
		encoded, marshalErr := json.Marshal(payload)
		require.NoError(testingT, marshalErr)
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, body)
	request.Header.Set("Content-Type", "application/json")
	if authenticatedEmail != "" {
		request.AddCookie(createAuthenticatedSessionCookie(testingT, authenticatedEmail, testOwnerNameValue))
	}

	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func (harness *apiHarness) rawRequest(testingT *testing.T, method string, target string, body string, authenticatedEmail string) *httptest.ResponseRecorder {
	testingT.Helper()

	request := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	request.Header.Set("Content-Type", "application/json")
	if authenticatedEmail != "" {
		request.AddCookie(createAuthenticatedSessionCookie(testingT, authenticatedEmail, testOwnerNameValue))
	}

	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func (harness *apiHarness) publishSite(testingT *testing.T, email string, slug string) {
	testingT.Helper()

	recorder := harness.request(testingT, http.MethodPost, "/api/publish", gin.H{
		"slug": slug,
		"html": testRawDocumentValue,
	}, email)
	require.Equal(testingT, http.StatusOK, recorder.Code, recorder.Body.String())
}

func decodeJSONBody(testingT *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testingT.Helper()

	var decoded map[string]any
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	return decoded
}
