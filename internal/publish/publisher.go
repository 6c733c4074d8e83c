package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/quota"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/render"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/sanitize"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/storage"
)

const (
	// SitePathPrefix is the remote directory that holds published sites.
	SitePathPrefix = "sites/"

	sitePathSuffix       = "/index.html"
	publishMessagePrefix = "Publish site: "

	logEventPublishSucceeded = "publish_succeeded"
	logFieldSiteSlug         = "slug"
	logFieldOwnerEmail       = "owner_email"
)

var (
	// ErrMissingIdentity indicates no resolvable authenticated user.
	ErrMissingIdentity = errors.New("missing_identity")
	// ErrSiteNameTaken indicates the slug belongs to a different user.
	ErrSiteNameTaken = errors.New("name_taken")
	// ErrTrialExpired indicates an unpaid site past its trial window.
	ErrTrialExpired = errors.New("trial_expired")
)

// RemoteStore ships one file to the content host.
type RemoteStore interface {
	Publish(ctx context.Context, path string, content string, message string) error
}

// PublishInput carries one publish request. Exactly one of RawHTML and
// State supplies the content; State wins when both are present.
type PublishInput struct {
	Slug    string
	RawHTML string
	State   *model.BuilderState
}

// PublishResult reports a successful publish.
type PublishResult struct {
	URL  string
	Site model.Site
}

// Publisher orchestrates a publish request end to end: validation, user and
// site resolution, quota and trial checks, rendering, the remote write, and
// the local commit.
type Publisher struct {
	database     *gorm.DB
	logger       *zap.Logger
	quotaTracker *quota.Tracker
	renderer     *render.Renderer
	remote       RemoteStore
	pagesBaseURL string
	now          func() time.Time
}

// NewPublisher constructs a Publisher. The pages base URL is normalized to
// end with a trailing separator.
func NewPublisher(database *gorm.DB, logger *zap.Logger, remote RemoteStore, pagesBaseURL string) *Publisher {
	normalizedBaseURL := strings.TrimSpace(pagesBaseURL)
	if normalizedBaseURL != "" && !strings.HasSuffix(normalizedBaseURL, "/") {
		normalizedBaseURL += "/"
	}
	return &Publisher{
		database:     database,
		logger:       logger,
		quotaTracker: quota.NewTracker(database),
		renderer:     render.NewRenderer(),
		remote:       remote,
		pagesBaseURL: normalizedBaseURL,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (publisher *Publisher) WithClock(clock func() time.Time) *Publisher {
	if clock != nil {
		publisher.now = clock
	}
	return publisher
}

// Publish runs one request through the pipeline. Any failed step
// short-circuits with a typed error and leaves no mutation beyond what
// already committed in prior steps. The remote write and the local commit
// are deliberately not one transaction: a crash between them leaves the
// remote artifact ahead of the local record, and re-issuing the same
// request reconciles it.
func (publisher *Publisher) Publish(ctx context.Context, identityEmail string, input PublishInput) (PublishResult, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(identityEmail))
	if normalizedEmail == "" {
		return PublishResult{}, ErrMissingIdentity
	}

	slug, slugErr := sanitize.ValidateSlug(input.Slug)
	if slugErr != nil {
		return PublishResult{}, slugErr
	}

	if input.State == nil && strings.TrimSpace(input.RawHTML) == "" {
		return PublishResult{}, sanitize.ErrEmptyHTML
	}

	user, userErr := storage.EnsureUserByEmail(ctx, publisher.database, normalizedEmail)
	if userErr != nil {
		return PublishResult{}, userErr
	}

	now := publisher.now().UTC()

	site, siteErr := publisher.resolveSite(ctx, user, slug, now)
	if siteErr != nil {
		return PublishResult{}, siteErr
	}

	if ceilingErr := publisher.quotaTracker.CheckDailyEditCeiling(ctx, site.ID, now); ceilingErr != nil {
		return PublishResult{}, ceilingErr
	}

	document, documentErr := publisher.prepareDocument(user, input)
	if documentErr != nil {
		return PublishResult{}, documentErr
	}

	contentPath := SitePathPrefix + slug + sitePathSuffix
	if remoteErr := publisher.remote.Publish(ctx, contentPath, document, publishMessagePrefix+slug); remoteErr != nil {
		return PublishResult{}, remoteErr
	}

	commitErr := publisher.database.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		updates := map[string]any{
			"content_path": contentPath,
			"published_at": now,
			"is_active":    true,
		}
		if updateErr := transaction.Model(&model.Site{}).Where("id = ?", site.ID).Updates(updates).Error; updateErr != nil {
			return updateErr
		}
		return quota.NewTracker(transaction).RecordEdit(ctx, site.ID, now)
	})
	if commitErr != nil {
		return PublishResult{}, commitErr
	}

	site.ContentPath = contentPath
	site.PublishedAt = &now
	site.IsActive = true

	publisher.logger.Info(logEventPublishSucceeded,
		zap.String(logFieldSiteSlug, slug),
		zap.String(logFieldOwnerEmail, normalizedEmail),
	)

	return PublishResult{
		URL:  publisher.pagesBaseURL + SitePathPrefix + slug + "/",
		Site: site,
	}, nil
}

// resolveSite finds or lazily creates the (owner, slug) site row, enforcing
// global slug uniqueness, the site ceiling, and the synchronous trial check.
func (publisher *Publisher) resolveSite(ctx context.Context, user model.User, slug string, now time.Time) (model.Site, error) {
	var existingWithName model.Site
	nameLookupErr := publisher.database.WithContext(ctx).Where("site_name = ?", slug).First(&existingWithName).Error
	if nameLookupErr == nil && existingWithName.OwnerUserID != user.ID {
		return model.Site{}, ErrSiteNameTaken
	}
	if nameLookupErr != nil && !errors.Is(nameLookupErr, gorm.ErrRecordNotFound) {
		return model.Site{}, nameLookupErr
	}

	if nameLookupErr == nil {
		// The caller's own site: expired unpaid trials are rejected before
		// quotas are touched or anything renders.
		if !existingWithName.Publishable(now) {
			return model.Site{}, ErrTrialExpired
		}
		return existingWithName, nil
	}

	if ceilingErr := publisher.quotaTracker.CheckSiteCeiling(ctx, user.ID); ceilingErr != nil {
		return model.Site{}, ceilingErr
	}

	site, buildErr := model.NewSite(user.ID, slug, now)
	if buildErr != nil {
		return model.Site{}, buildErr
	}
	createErr := publisher.database.WithContext(ctx).Create(&site).Error
	if createErr == nil {
		return site, nil
	}
	if isUniqueViolation(createErr) {
		// Lost a racing create for the same slug.
		return model.Site{}, ErrSiteNameTaken
	}
	return model.Site{}, createErr
}

// prepareDocument renders the structured state or sanitizes the legacy raw
// document, then applies the three content budgets to the result.
func (publisher *Publisher) prepareDocument(user model.User, input PublishInput) (string, error) {
	var document string
	if input.State != nil {
		relayEndpoint := ""
		if input.State.HasContactForm() {
			validatedEndpoint, endpointErr := sanitize.ValidateRelayEndpoint(user.RelayEndpoint)
			if endpointErr != nil {
				return "", render.ErrMissingRelayEndpoint
			}
			relayEndpoint = validatedEndpoint
		}
		rendered, renderErr := publisher.renderer.Render(*input.State, relayEndpoint)
		if renderErr != nil {
			return "", renderErr
		}
		document = rendered
	} else {
		document = sanitize.StripScriptTags(input.RawHTML)
		if strings.TrimSpace(document) == "" {
			return "", sanitize.ErrEmptyHTML
		}
	}

	if budgetErr := sanitize.EnforceDocumentBudget(document); budgetErr != nil {
		return "", budgetErr
	}
	if budgetErr := sanitize.EnforceTextBudget(document); budgetErr != nil {
		return "", budgetErr
	}
	if budgetErr := sanitize.EnforceImageURLBudget(document); budgetErr != nil {
		return "", budgetErr
	}
	return document, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
