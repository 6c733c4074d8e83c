// Package sanitize validates and bounds user-submitted content before it
// reaches the renderer or the remote store.
package sanitize

import (
	"errors"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	htmlparser "golang.org/x/net/html"
)

const (
	// SlugMaxLength bounds the normalized site slug.
	SlugMaxLength = 50
	// MaxDocumentLength bounds a whole published HTML document.
	MaxDocumentLength = 1_000_000
	// MaxTotalTextLength bounds the visible text of a document.
	MaxTotalTextLength = 5_000
	// MaxImageURLLength bounds any single img src value.
	MaxImageURLLength = 500

	// RelayEndpointHost is the only host accepted for contact-form relays.
	RelayEndpointHost = "formspree.io"
	// RelayEndpointPathPrefix is the required relay path prefix.
	RelayEndpointPathPrefix = "/f/"

	relayEndpointScheme = "https"
)

var (
	ErrInvalidSlug          = errors.New("invalid_slug")
	ErrEmptyHTML            = errors.New("empty_html")
	ErrDocumentTooLarge     = errors.New("too_large")
	ErrTooMuchText          = errors.New("too_much_text")
	ErrImageURLTooLong      = errors.New("url_too_long")
	ErrInvalidRelayEndpoint = errors.New("invalid_endpoint")
)

var (
	slugExpression         = regexp.MustCompile(`^[a-z0-9-]+$`)
	scriptRegionExpression = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	imageSourceExpression  = regexp.MustCompile(`(?i)<img[^>]+src\s*=\s*"([^"]*)"`)
	colorExpression        = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// ValidateSlug trims, lowercases and validates a raw slug.
func ValidateSlug(raw string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(raw))
	if slug == "" || len(slug) > SlugMaxLength {
		return "", ErrInvalidSlug
	}
	if !slugExpression.MatchString(slug) {
		return "", ErrInvalidSlug
	}
	return slug, nil
}

// StripScriptTags removes script regions from raw legacy HTML. Matching is
// case-insensitive and spans newlines.
func StripScriptTags(document string) string {
	return scriptRegionExpression.ReplaceAllString(document, "")
}

// EnforceDocumentBudget rejects whole documents beyond the size ceiling.
func EnforceDocumentBudget(document string) error {
	if utf8.RuneCountInString(document) > MaxDocumentLength {
		return ErrDocumentTooLarge
	}
	return nil
}

// EnforceTextBudget rejects documents whose visible text, with tags stripped
// and entities decoded, exceeds the text ceiling.
func EnforceTextBudget(document string) error {
	if utf8.RuneCountInString(VisibleText(document)) > MaxTotalTextLength {
		return ErrTooMuchText
	}
	return nil
}

// VisibleText extracts the tag-free, entity-decoded text of a document.
func VisibleText(document string) string {
	tokenizer := htmlparser.NewTokenizer(strings.NewReader(document))
	builder := &strings.Builder{}
	for {
		tokenType := tokenizer.Next()
		if tokenType == htmlparser.ErrorToken {
			break
		}
		if tokenType == htmlparser.TextToken {
			builder.Write(tokenizer.Text())
		}
	}
	return strings.TrimSpace(builder.String())
}

// EnforceImageURLBudget rejects documents containing an img src longer than
// the URL ceiling.
func EnforceImageURLBudget(document string) error {
	for _, match := range imageSourceExpression.FindAllStringSubmatch(document, -1) {
		if len(match) < 2 {
			continue
		}
		if utf8.RuneCountInString(match[1]) > MaxImageURLLength {
			return ErrImageURLTooLong
		}
	}
	return nil
}

// ValidateColor accepts exactly "#" plus six hex digits and returns the
// fallback for anything else.
func ValidateColor(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if colorExpression.MatchString(trimmed) {
		return trimmed
	}
	return fallback
}

// ValidateRelayEndpoint accepts only absolute HTTPS URLs on the trusted
// relay host under the fixed path prefix.
func ValidateRelayEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidRelayEndpoint
	}

	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || !parsed.IsAbs() {
		return "", ErrInvalidRelayEndpoint
	}
	if parsed.Scheme != relayEndpointScheme {
		return "", ErrInvalidRelayEndpoint
	}
	if !strings.EqualFold(parsed.Host, RelayEndpointHost) {
		return "", ErrInvalidRelayEndpoint
	}
	if !strings.HasPrefix(parsed.Path, RelayEndpointPathPrefix) {
		return "", ErrInvalidRelayEndpoint
	}

	return trimmed, nil
}

// EscapeHTML escapes ampersands, angle brackets and quotes for embedding in
// attribute or text context.
func EscapeHTML(value string) string {
	return html.EscapeString(value)
}
