// Package publish renders, bounds and ships site content to the remote
// content store, keeping the local records consistent with what shipped.
package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultGitHubAPIBaseURL = "https://api.github.com"
	defaultPublishBranch    = "main"
	defaultRemoteTimeout    = 30 * time.Second

	githubAcceptHeaderValue = "application/vnd.github+json"
	githubUserAgentValue    = "minisite-builder/1.0"
	headerAccept            = "Accept"
	headerAuthorization     = "Authorization"
	headerContentType       = "Content-Type"
	headerUserAgent         = "User-Agent"
	contentTypeJSON         = "application/json"

	logEventRemoteRead  = "remote_read"
	logEventRemoteWrite = "remote_write"
	logFieldRemotePath  = "path"
	logFieldStatusCode  = "status"
)

var (
	// ErrMissingPublishToken indicates the server-held token was not
	// configured. Every publish fails identically until deployment fixes it.
	ErrMissingPublishToken = errors.New("publish_token_missing")
	// ErrMissingPublishTarget indicates the owner or repository was not
	// configured.
	ErrMissingPublishTarget = errors.New("publish_target_missing")
)

// GitHubConfig addresses the content repository. It is immutable after
// construction; request handling never reads ambient configuration.
type GitHubConfig struct {
	Owner        string
	Repository   string
	Branch       string
	Token        string
	PagesBaseURL string
}

// Validate reports startup-time configuration errors.
func (config GitHubConfig) Validate() error {
	if strings.TrimSpace(config.Owner) == "" || strings.TrimSpace(config.Repository) == "" {
		return ErrMissingPublishTarget
	}
	if strings.TrimSpace(config.Token) == "" {
		return ErrMissingPublishToken
	}
	return nil
}

// BranchOrDefault returns the configured branch or the default.
func (config GitHubConfig) BranchOrDefault() string {
	branch := strings.TrimSpace(config.Branch)
	if branch == "" {
		return defaultPublishBranch
	}
	return branch
}

// NormalizedPagesBaseURL returns the public base URL with a guaranteed
// trailing separator, deriving the github.io default when unset.
func (config GitHubConfig) NormalizedPagesBaseURL() string {
	base := strings.TrimSpace(config.PagesBaseURL)
	if base == "" {
		base = fmt.Sprintf("https://%s.github.io/%s/", strings.ToLower(strings.TrimSpace(config.Owner)), strings.TrimSpace(config.Repository))
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// RemoteError carries a non-success remote response verbatim so callers see
// exactly what the content host said.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (remoteError *RemoteError) Error() string {
	return fmt.Sprintf("remote status %d: %s", remoteError.StatusCode, remoteError.Body)
}

// GitHubClient publishes files through the GitHub Contents API using the
// read-then-conditional-write protocol.
type GitHubClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	config     GitHubConfig
	apiBaseURL string
}

// NewGitHubClient constructs a client. A nil HTTP client falls back to a
// default with a read timeout; configuration problems fail construction.
func NewGitHubClient(httpClient *http.Client, logger *zap.Logger, config GitHubConfig) (*GitHubClient, error) {
	if validationErr := config.Validate(); validationErr != nil {
		return nil, validationErr
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRemoteTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubClient{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		apiBaseURL: defaultGitHubAPIBaseURL,
	}, nil
}

// WithAPIBaseURL overrides the API origin.
func (client *GitHubClient) WithAPIBaseURL(apiBaseURL string) *GitHubClient {
	trimmed := strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if trimmed != "" {
		client.apiBaseURL = trimmed
	}
	return client
}

// PagesBaseURL exposes the normalized public base for URL composition.
func (client *GitHubClient) PagesBaseURL() string {
	return client.config.NormalizedPagesBaseURL()
}

type contentsWriteRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type contentsReadResponse struct {
	SHA string `json:"sha"`
}

// Publish writes content to the repository path on the configured branch.
// An existing file's SHA is read first and echoed back to satisfy the
// remote store's optimistic-concurrency requirement; a missing file means
// first-time creation. Republishing identical content is idempotent.
func (client *GitHubClient) Publish(ctx context.Context, path string, content string, message string) error {
	existingSHA, readErr := client.existingContentSHA(ctx, path)
	if readErr != nil {
		return readErr
	}

	payload := contentsWriteRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		Branch:  client.config.BranchOrDefault(),
		SHA:     existingSHA,
	}
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPut, client.contentsURL(path), bytes.NewReader(encoded))
	if requestErr != nil {
		return requestErr
	}
	client.decorateRequest(request)
	request.Header.Set(headerContentType, contentTypeJSON)

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(response.Body)
		client.logger.Warn(logEventRemoteWrite,
			zap.String(logFieldRemotePath, path),
			zap.Int(logFieldStatusCode, response.StatusCode),
		)
		return &RemoteError{StatusCode: response.StatusCode, Body: string(body)}
	}

	return nil
}

func (client *GitHubClient) existingContentSHA(ctx context.Context, path string) (string, error) {
	readURL := client.contentsURL(path) + "?ref=" + client.config.BranchOrDefault()
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, readURL, nil)
	if requestErr != nil {
		return "", requestErr
	}
	client.decorateRequest(request)

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return "", doErr
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode == http.StatusNotFound {
		// First-time creation: no prior version token to echo back.
		return "", nil
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(response.Body)
		client.logger.Warn(logEventRemoteRead,
			zap.String(logFieldRemotePath, path),
			zap.Int(logFieldStatusCode, response.StatusCode),
		)
		return "", &RemoteError{StatusCode: response.StatusCode, Body: string(body)}
	}

	var decoded contentsReadResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&decoded); decodeErr != nil {
		return "", decodeErr
	}
	return decoded.SHA, nil
}

func (client *GitHubClient) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", client.apiBaseURL, client.config.Owner, client.config.Repository, path)
}

func (client *GitHubClient) decorateRequest(request *http.Request) {
	request.Header.Set(headerAccept, githubAcceptHeaderValue)
	request.Header.Set(headerUserAgent, githubUserAgentValue)
	request.Header.Set(headerAuthorization, "Bearer "+client.config.Token)
}
