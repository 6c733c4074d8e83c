package publish_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/publish"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/quota"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/render"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/sanitize"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/storage"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/testutil"
)

const (
	testOwnerEmailValue  = "owner@example.com"
	testOtherEmailValue  = "rival@example.com"
	testPagesBaseValue   = "https://acme.github.io/minisites/"
	testPublishSlugValue = "my-site"
	testRawDocumentValue = "<html><body><p>hello world</p></body></html>"
)

type fakeRemoteStore struct {
	calls    int
	lastPath string
	lastBody string
	lastMsg  string
	failWith error
}

func (store *fakeRemoteStore) Publish(_ context.Context, path string, content string, message string) error {
	store.calls++
	store.lastPath = path
	store.lastBody = content
	store.lastMsg = message
	return store.failWith
}

type publisherHarness struct {
	database *gorm.DB
	remote   *fakeRemoteStore
	instance *publish.Publisher
	clock    time.Time
}

func newPublisherHarness(testingT *testing.T) *publisherHarness {
	testingT.Helper()

	harness := &publisherHarness{
		database: testutil.OpenMigratedDatabase(testingT),
		remote:   &fakeRemoteStore{},
		clock:    time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC),
	}
	harness.instance = publish.NewPublisher(harness.database, zap.NewNop(), harness.remote, testPagesBaseValue).
		WithClock(func() time.Time { return harness.clock })
	return harness
}

func (harness *publisherHarness) publishRaw(slug string) (publish.PublishResult, error) {
	return harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    slug,
		RawHTML: testRawDocumentValue,
	})
}

func TestPublishFreshSlugCreatesSiteAndShipsContent(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	result, publishErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, publishErr)

	require.Equal(testingT, testPagesBaseValue+"sites/"+testPublishSlugValue+"/", result.URL)
	require.Equal(testingT, "sites/"+testPublishSlugValue+"/index.html", harness.remote.lastPath)
	require.Equal(testingT, "Publish site: "+testPublishSlugValue, harness.remote.lastMsg)

	var site model.Site
	require.NoError(testingT, harness.database.First(&site, "site_name = ?", testPublishSlugValue).Error)
	require.True(testingT, site.IsActive)
	require.NotNil(testingT, site.PublishedAt)
	require.Equal(testingT, "sites/"+testPublishSlugValue+"/index.html", site.ContentPath)

	editsUsed, usageErr := quota.NewTracker(harness.database).EditsUsed(context.Background(), site.ID, harness.clock)
	require.NoError(testingT, usageErr)
	require.Equal(testingT, 1, editsUsed)
}

func TestPublishRejectsInvalidSlugBeforeAnySideEffect(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, publishErr := harness.publishRaw("My-Site!")
	require.ErrorIs(testingT, publishErr, sanitize.ErrInvalidSlug)
	require.Zero(testingT, harness.remote.calls)

	var siteCount int64
	require.NoError(testingT, harness.database.Model(&model.Site{}).Count(&siteCount).Error)
	require.Zero(testingT, siteCount)
}

func TestPublishRejectsEmptyContent(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, publishErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: "   ",
	})
	require.ErrorIs(testingT, publishErr, sanitize.ErrEmptyHTML)
}

func TestPublishRejectsMissingIdentity(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, publishErr := harness.instance.Publish(context.Background(), "  ", publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: testRawDocumentValue,
	})
	require.ErrorIs(testingT, publishErr, publish.ErrMissingIdentity)
}

func TestPublishStripsScriptsFromRawDocuments(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, publishErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: `<html><body><p>fine</p><script>steal()</script></body></html>`,
	})
	require.NoError(testingT, publishErr)
	require.NotContains(testingT, harness.remote.lastBody, "script")
	require.Contains(testingT, harness.remote.lastBody, "<p>fine</p>")
}

func TestPublishRejectsScriptOnlyRawDocuments(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, publishErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: `<script>only()</script>`,
	})
	require.ErrorIs(testingT, publishErr, sanitize.ErrEmptyHTML)
	require.Zero(testingT, harness.remote.calls)
}

func TestPublishRejectsFourthSite(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	for siteIndex := 1; siteIndex <= quota.MaxSitesPerUser; siteIndex++ {
		_, publishErr := harness.publishRaw(fmt.Sprintf("site-%d", siteIndex))
		require.NoError(testingT, publishErr)
	}

	_, overflowErr := harness.publishRaw("site-overflow")
	require.ErrorIs(testingT, overflowErr, quota.ErrSiteLimitReached)
}

func TestPublishEditingExistingSiteBypassesSiteCeiling(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	for siteIndex := 1; siteIndex <= quota.MaxSitesPerUser; siteIndex++ {
		_, publishErr := harness.publishRaw(fmt.Sprintf("site-%d", siteIndex))
		require.NoError(testingT, publishErr)
	}

	// Owning the maximum number of sites never blocks editing one of them.
	_, editErr := harness.publishRaw("site-1")
	require.NoError(testingT, editErr)
}

func TestPublishRejectsFourthDailyEditAndResetsNextDay(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	for editIndex := 0; editIndex < quota.MaxEditsPerDayPerSite; editIndex++ {
		_, publishErr := harness.publishRaw(testPublishSlugValue)
		require.NoError(testingT, publishErr)
	}

	_, overflowErr := harness.publishRaw(testPublishSlugValue)
	require.ErrorIs(testingT, overflowErr, quota.ErrEditLimitReached)
	require.Equal(testingT, quota.MaxEditsPerDayPerSite, harness.remote.calls)

	harness.clock = harness.clock.Add(24 * time.Hour)
	_, nextDayErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, nextDayErr)
}

func TestPublishRejectsSlugOwnedByAnotherUser(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, firstErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, firstErr)

	_, takenErr := harness.instance.Publish(context.Background(), testOtherEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: testRawDocumentValue,
	})
	require.ErrorIs(testingT, takenErr, publish.ErrSiteNameTaken)
}

func TestPublishRejectsExpiredTrialBeforeQuotaAndRemote(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, firstErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, firstErr)
	callsBefore := harness.remote.calls

	harness.clock = harness.clock.Add(model.TrialDuration)
	_, expiredErr := harness.publishRaw(testPublishSlugValue)
	require.ErrorIs(testingT, expiredErr, publish.ErrTrialExpired)
	require.Equal(testingT, callsBefore, harness.remote.calls)
}

func TestPublishPaidSiteIgnoresTrialExpiry(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	_, firstErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, firstErr)

	require.NoError(testingT, harness.database.Model(&model.Site{}).
		Where("site_name = ?", testPublishSlugValue).
		Update("is_paid", true).Error)

	harness.clock = harness.clock.Add(30 * 24 * time.Hour)
	_, paidErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, paidErr)
}

func TestPublishStructuredStateRequiresRelayEndpointForContactForm(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	state := model.BuilderState{
		SiteTitle: "With form",
		Blocks:    []model.Block{{ID: 1, Type: model.BlockTypeContactForm}},
	}

	_, missingErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:  testPublishSlugValue,
		State: &state,
	})
	require.ErrorIs(testingT, missingErr, render.ErrMissingRelayEndpoint)
	require.Zero(testingT, harness.remote.calls)

	owner, ownerErr := storage.EnsureUserByEmail(context.Background(), harness.database, testOwnerEmailValue)
	require.NoError(testingT, ownerErr)
	require.NoError(testingT, harness.database.Model(&model.User{}).
		Where("id = ?", owner.ID).
		Update("relay_endpoint", "https://formspree.io/f/abcd1234").Error)

	_, publishErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:  testPublishSlugValue,
		State: &state,
	})
	require.NoError(testingT, publishErr)
	require.Contains(testingT, harness.remote.lastBody, `action="https://formspree.io/f/abcd1234"`)
}

func TestPublishStructuredStateWinsOverRawHTML(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	state := model.BuilderState{
		SiteTitle: "Structured",
		Blocks:    []model.Block{{ID: 1, Type: model.BlockTypeText, Content: "from the builder"}},
	}

	_, publishErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: "<p>ignored raw</p>",
		State:   &state,
	})
	require.NoError(testingT, publishErr)
	require.Contains(testingT, harness.remote.lastBody, "from the builder")
	require.NotContains(testingT, harness.remote.lastBody, "ignored raw")
}

func TestPublishEnforcesContentBudgets(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	oversizedDocument := "<html>" + strings.Repeat("a", sanitize.MaxDocumentLength) + "</html>"
	_, tooLargeErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: oversizedDocument,
	})
	require.ErrorIs(testingT, tooLargeErr, sanitize.ErrDocumentTooLarge)

	textHeavyDocument := "<p>" + strings.Repeat("t", sanitize.MaxTotalTextLength+1) + "</p>"
	_, tooMuchTextErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: textHeavyDocument,
	})
	require.ErrorIs(testingT, tooMuchTextErr, sanitize.ErrTooMuchText)

	longImageDocument := `<p>pic</p><img src="https://example.com/` + strings.Repeat("i", sanitize.MaxImageURLLength) + `">`
	_, longURLErr := harness.instance.Publish(context.Background(), testOwnerEmailValue, publish.PublishInput{
		Slug:    testPublishSlugValue,
		RawHTML: longImageDocument,
	})
	require.ErrorIs(testingT, longURLErr, sanitize.ErrImageURLTooLong)

	require.Zero(testingT, harness.remote.calls)
}

func TestPublishRemoteFailureLeavesLocalStateUntouched(testingT *testing.T) {
	harness := newPublisherHarness(testingT)
	harness.remote.failWith = errors.New("remote unavailable")

	_, publishErr := harness.publishRaw(testPublishSlugValue)
	require.Error(testingT, publishErr)

	// The site row exists in draft form but was never activated, and the
	// failed attempt consumed no edit quota.
	var site model.Site
	require.NoError(testingT, harness.database.First(&site, "site_name = ?", testPublishSlugValue).Error)
	require.False(testingT, site.IsActive)
	require.Nil(testingT, site.PublishedAt)

	editsUsed, usageErr := quota.NewTracker(harness.database).EditsUsed(context.Background(), site.ID, harness.clock)
	require.NoError(testingT, usageErr)
	require.Zero(testingT, editsUsed)

	harness.remote.failWith = nil
	_, retryErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, retryErr)
}

func TestPublishRepublishIsIdempotentForTheCaller(testingT *testing.T) {
	harness := newPublisherHarness(testingT)

	firstResult, firstErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, firstErr)

	secondResult, secondErr := harness.publishRaw(testPublishSlugValue)
	require.NoError(testingT, secondErr)

	require.Equal(testingT, firstResult.URL, secondResult.URL)
	require.Equal(testingT, 2, harness.remote.calls)

	var siteCount int64
	require.NoError(testingT, harness.database.Model(&model.Site{}).Count(&siteCount).Error)
	require.Equal(testingT, int64(1), siteCount)
}
