package api_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/quota"
)

func (harness *apiHarness) ownedSiteID(testingT *testing.T, slug string) string {
	testingT.Helper()

	var site model.Site
	require.NoError(testingT, harness.database.First(&site, "site_name = ?", slug).Error)
	return site.ID
}

func TestListSitesReportsQuotaHeadroom(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "site-one")
	harness.publishSite(testingT, testOwnerEmailValue, "site-two")
	harness.publishSite(testingT, testOwnerEmailValue, "site-two")

	recorder := harness.request(testingT, http.MethodGet, "/api/sites", nil, testOwnerEmailValue)
	require.Equal(testingT, http.StatusOK, recorder.Code)

	body := decodeJSONBody(testingT, recorder)
	require.EqualValues(testingT, quota.MaxSitesPerUser, body["max_sites"])
	require.EqualValues(testingT, quota.MaxSitesPerUser-2, body["remaining_sites"])

	sites := body["sites"].([]any)
	require.Len(testingT, sites, 2)

	firstSite := sites[0].(map[string]any)
	require.Equal(testingT, "site-one", firstSite["site_name"])
	require.EqualValues(testingT, 1, firstSite["edits_used_today"])
	require.EqualValues(testingT, quota.MaxEditsPerDayPerSite-1, firstSite["edits_remaining_today"])

	secondSite := sites[1].(map[string]any)
	require.EqualValues(testingT, 2, secondSite["edits_used_today"])
}

func TestListSitesIsEmptyForNewUser(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	recorder := harness.request(testingT, http.MethodGet, "/api/sites", nil, testOwnerEmailValue)
	require.Equal(testingT, http.StatusOK, recorder.Code)

	body := decodeJSONBody(testingT, recorder)
	require.Empty(testingT, body["sites"])
	require.EqualValues(testingT, quota.MaxSitesPerUser, body["remaining_sites"])
}

func TestDeleteSiteRemovesOwnedSite(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "doomed-site")
	siteID := harness.ownedSiteID(testingT, "doomed-site")

	recorder := harness.request(testingT, http.MethodDelete, "/api/sites/"+siteID, nil, testOwnerEmailValue)
	require.Equal(testingT, http.StatusNoContent, recorder.Code)

	var remaining int64
	require.NoError(testingT, harness.database.Model(&model.Site{}).Count(&remaining).Error)
	require.Zero(testingT, remaining)
}

func TestDeleteSiteRejectsForeignSite(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "kept-site")
	siteID := harness.ownedSiteID(testingT, "kept-site")

	recorder := harness.request(testingT, http.MethodDelete, "/api/sites/"+siteID, nil, testOtherEmailValue)
	require.Equal(testingT, http.StatusNotFound, recorder.Code)
	require.Equal(testingT, "site_not_found", decodeJSONBody(testingT, recorder)["error"])

	var remaining int64
	require.NoError(testingT, harness.database.Model(&model.Site{}).Count(&remaining).Error)
	require.Equal(testingT, int64(1), remaining)
}

func TestMarkPaidLiftsTrialExpiry(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "paying-site")
	siteID := harness.ownedSiteID(testingT, "paying-site")

	recorder := harness.request(testingT, http.MethodPost, "/api/sites/"+siteID+"/mark-paid", nil, testOwnerEmailValue)
	require.Equal(testingT, http.StatusOK, recorder.Code)

	body := decodeJSONBody(testingT, recorder)
	require.Equal(testingT, siteID, body["site_id"])
	require.Equal(testingT, true, body["is_paid"])

	// A paid site keeps publishing past its original trial window.
	harness.clock = harness.clock.Add(2 * model.TrialDuration)
	harness.publishSite(testingT, testOwnerEmailValue, "paying-site")
}

func TestSaveAndGetBuilderState(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "drafted-site")
	siteID := harness.ownedSiteID(testingT, "drafted-site")

	stateDocument := gin.H{
		"siteTitle": "Draft title",
		"blocks":    []gin.H{{"id": 1, "type": "text", "content": "draft content"}},
	}
	saveRecorder := harness.request(testingT, http.MethodPut, "/api/sites/"+siteID+"/state", stateDocument, testOwnerEmailValue)
	require.Equal(testingT, http.StatusNoContent, saveRecorder.Code)

	getRecorder := harness.request(testingT, http.MethodGet, "/api/sites/"+siteID+"/state", nil, testOwnerEmailValue)
	require.Equal(testingT, http.StatusOK, getRecorder.Code)
	require.Equal(testingT, "Draft title", decodeJSONBody(testingT, getRecorder)["siteTitle"])
}

func TestGetBuilderStateDefaultsToEmptyObject(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "bare-site")
	siteID := harness.ownedSiteID(testingT, "bare-site")

	recorder := harness.request(testingT, http.MethodGet, "/api/sites/"+siteID+"/state", nil, testOwnerEmailValue)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Equal(testingT, "{}", recorder.Body.String())
}

func TestSaveBuilderStateRejectsMalformedJSON(testingT *testing.T) {
	harness := newAPIHarness(testingT)

	harness.publishSite(testingT, testOwnerEmailValue, "strict-site")
	siteID := harness.ownedSiteID(testingT, "strict-site")

	request := harness.rawRequest(testingT, http.MethodPut, "/api/sites/"+siteID+"/state", `{"broken":`, testOwnerEmailValue)
	require.Equal(testingT, http.StatusBadRequest, request.Code)
	require.Equal(testingT, "invalid_state", decodeJSONBody(testingT, request)["error"])
}
