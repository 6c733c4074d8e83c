// Package render converts a page-builder state into a complete,
// self-contained HTML document.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/sanitize"
)

const (
	defaultSiteTitle       = "My site"
	defaultBackgroundColor = "#ffffff"
	defaultButtonColor     = "#4f46e5"
	defaultSubmitLabel     = "Send"
	defaultButtonPadding   = "12px 30px"
)

// ErrMissingRelayEndpoint indicates a contact-form block without a resolved
// relay endpoint. Rendering without the endpoint would publish a dead form,
// so this is a hard validation error.
var ErrMissingRelayEndpoint = errors.New("missing_relay_endpoint")

// Renderer produces static documents. Every free-text and URL field passes
// through HTML escaping before embedding; this is the structured path's only
// defense against injection.
type Renderer struct{}

// NewRenderer constructs a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the document for a builder state. The relay endpoint is
// required only when the state contains a contact-form block.
func (renderer *Renderer) Render(state model.BuilderState, relayEndpoint string) (string, error) {
	if state.HasContactForm() && strings.TrimSpace(relayEndpoint) == "" {
		return "", ErrMissingRelayEndpoint
	}

	title := strings.TrimSpace(state.SiteTitle)
	if title == "" {
		title = defaultSiteTitle
	}
	backgroundColor := sanitize.ValidateColor(state.BackgroundColor, defaultBackgroundColor)

	builder := &strings.Builder{}
	builder.WriteString("<!DOCTYPE html>\n")
	builder.WriteString("<html lang=\"en\">\n")
	builder.WriteString("<head>\n")
	builder.WriteString("<meta charset=\"UTF-8\">\n")
	builder.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	builder.WriteString("<title>" + sanitize.EscapeHTML(title) + "</title>\n")
	renderer.writeStylesheet(builder, backgroundColor)
	builder.WriteString("</head>\n")

	bodyClass := ""
	if effectClass := effectClassName(state.Effect); effectClass != "" {
		bodyClass = " class=\"" + effectClass + "\""
	}
	builder.WriteString("<body" + bodyClass + ">\n")

	renderer.writeHeader(builder, state, title)

	for _, block := range state.Blocks {
		renderer.writeBlock(builder, block, relayEndpoint)
	}

	renderer.writeFooter(builder, state)

	if state.HasContactForm() {
		renderer.writeContactFormScript(builder)
	}

	builder.WriteString("</body>\n")
	builder.WriteString("</html>\n")

	return builder.String(), nil
}

func (renderer *Renderer) writeStylesheet(builder *strings.Builder, backgroundColor string) {
	builder.WriteString("<style>\n")
	builder.WriteString("body { margin: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; color: #333; background: " + backgroundColor + "; }\n")
	builder.WriteString(".site-header { padding: 40px 20px; }\n")
	builder.WriteString(".site-header img { max-width: 120px; border-radius: 50%; }\n")
	builder.WriteString(".site-footer { padding: 30px 20px; margin-top: 40px; }\n")
	builder.WriteString(".block { padding: 16px 20px; }\n")
	builder.WriteString(".block-section { padding: 32px 20px; }\n")
	builder.WriteString(".block img { max-width: 100%; border-radius: 8px; }\n")
	builder.WriteString(".align-left { text-align: left; }\n")
	builder.WriteString(".align-center { text-align: center; }\n")
	builder.WriteString(".align-right { text-align: right; }\n")
	builder.WriteString(".fx-shadow { box-shadow: 0 10px 30px rgba(0,0,0,0.15); }\n")
	builder.WriteString(".fx-glow { box-shadow: 0 0 24px rgba(99,102,241,0.6); }\n")
	builder.WriteString(".btn { display: inline-block; border: none; border-radius: 8px; color: #fff; text-decoration: none; font-weight: 600; }\n")
	builder.WriteString(".contact-form label { display: block; font-weight: 600; margin: 12px 0 4px; }\n")
	builder.WriteString(".contact-form input, .contact-form textarea { width: 100%; max-width: 480px; border: 2px solid #e5e7eb; border-radius: 8px; padding: 10px; }\n")
	builder.WriteString(".contact-form button { margin-top: 16px; background: " + defaultButtonColor + "; color: #fff; border: none; border-radius: 8px; padding: 12px 30px; font-weight: 600; }\n")
	builder.WriteString(".form-panel { display: none; margin-top: 16px; padding: 12px; border-radius: 8px; }\n")
	builder.WriteString(".form-panel-success { background: #ecfdf5; color: #065f46; }\n")
	builder.WriteString(".form-panel-error { background: #fef2f2; color: #991b1b; }\n")
	builder.WriteString("</style>\n")
}

func (renderer *Renderer) writeHeader(builder *strings.Builder, state model.BuilderState, title string) {
	headerText := strings.TrimSpace(state.Header.Text)
	avatarURL := strings.TrimSpace(state.AvatarURL)
	if headerText == "" && avatarURL == "" {
		return
	}

	builder.WriteString("<header class=\"site-header " + alignmentClassName(state.Header.Alignment) + "\">\n")
	if avatarURL != "" {
		builder.WriteString("<img src=\"" + sanitize.EscapeHTML(avatarURL) + "\" alt=\"" + sanitize.EscapeHTML(title) + "\">\n")
	}
	if headerText != "" {
		builder.WriteString("<h1" + colorStyleAttribute(state.Header.Color, sanitize.ValidateColor(state.TitleColor, "")) + ">" + sanitize.EscapeHTML(headerText) + "</h1>\n")
	}
	builder.WriteString("</header>\n")
}

func (renderer *Renderer) writeFooter(builder *strings.Builder, state model.BuilderState) {
	footerText := strings.TrimSpace(state.Footer.Text)
	if footerText == "" {
		return
	}

	builder.WriteString("<footer class=\"site-footer " + alignmentClassName(state.Footer.Alignment) + "\"" + colorStyleAttribute(state.Footer.Color, "") + ">\n")
	builder.WriteString("<p>" + sanitize.EscapeHTML(footerText) + "</p>\n")
	builder.WriteString("</footer>\n")
}

func (renderer *Renderer) writeBlock(builder *strings.Builder, block model.Block, relayEndpoint string) {
	switch block.Type {
	case model.BlockTypeSection:
		renderer.writeTextualBlock(builder, block, "block block-section", "div")
	case model.BlockTypeHeading:
		renderer.writeTextualBlock(builder, block, "block", "h2")
	case model.BlockTypeText:
		renderer.writeTextualBlock(builder, block, "block", "p")
	case model.BlockTypeImage:
		renderer.writeImageBlock(builder, block)
	case model.BlockTypeButton:
		renderer.writeButtonBlock(builder, block)
	case model.BlockTypeContactForm:
		renderer.writeContactFormBlock(builder, block, relayEndpoint)
	default:
		// Unknown and blank type tags are skipped for forward compatibility.
	}
}

func (renderer *Renderer) writeTextualBlock(builder *strings.Builder, block model.Block, containerClass string, elementName string) {
	content := strings.TrimSpace(block.Content)
	if content == "" {
		return
	}

	builder.WriteString("<section class=\"" + blockClassNames(containerClass, block) + "\">\n")
	builder.WriteString("<" + elementName + colorStyleAttribute(block.Color, "") + ">" + sanitize.EscapeHTML(content) + "</" + elementName + ">\n")
	builder.WriteString("</section>\n")
}

func (renderer *Renderer) writeImageBlock(builder *strings.Builder, block model.Block) {
	imageURL := strings.TrimSpace(block.Content)
	if imageURL == "" {
		return
	}

	builder.WriteString("<section class=\"" + blockClassNames("block", block) + "\">\n")
	builder.WriteString("<img src=\"" + sanitize.EscapeHTML(imageURL) + "\" alt=\"\">\n")
	builder.WriteString("</section>\n")
}

func (renderer *Renderer) writeButtonBlock(builder *strings.Builder, block model.Block) {
	label := strings.TrimSpace(block.Content)
	if label == "" {
		return
	}

	buttonURL := ""
	padding := defaultButtonPadding
	if block.Button != nil {
		buttonURL = strings.TrimSpace(block.Button.URL)
		if trimmedPadding := strings.TrimSpace(block.Button.Padding); trimmedPadding != "" {
			padding = trimmedPadding
		}
	}
	if buttonURL == "" {
		buttonURL = "#"
	}

	buttonColor := sanitize.ValidateColor(block.Color, defaultButtonColor)
	style := "background: " + buttonColor + "; padding: " + sanitize.EscapeHTML(padding) + ";"

	builder.WriteString("<section class=\"" + blockClassNames("block", block) + "\">\n")
	builder.WriteString("<a class=\"btn\" href=\"" + sanitize.EscapeHTML(buttonURL) + "\" style=\"" + style + "\">" + sanitize.EscapeHTML(label) + "</a>\n")
	builder.WriteString("</section>\n")
}

func (renderer *Renderer) writeContactFormBlock(builder *strings.Builder, block model.Block, relayEndpoint string) {
	submitLabel := defaultSubmitLabel
	if block.ContactForm != nil {
		if trimmedLabel := strings.TrimSpace(block.ContactForm.SubmitLabel); trimmedLabel != "" {
			submitLabel = trimmedLabel
		}
	}

	formID := fmt.Sprintf("contact-form-%d", block.ID)

	builder.WriteString("<section class=\"" + blockClassNames("block", block) + "\">\n")
	builder.WriteString("<form id=\"" + formID + "\" class=\"contact-form\" action=\"" + sanitize.EscapeHTML(relayEndpoint) + "\" method=\"POST\">\n")
	builder.WriteString("<label for=\"" + formID + "-name\">Name</label>\n")
	builder.WriteString("<input type=\"text\" id=\"" + formID + "-name\" name=\"name\" required>\n")
	builder.WriteString("<label for=\"" + formID + "-email\">Email</label>\n")
	builder.WriteString("<input type=\"email\" id=\"" + formID + "-email\" name=\"email\" required>\n")
	builder.WriteString("<label for=\"" + formID + "-message\">Message</label>\n")
	builder.WriteString("<textarea id=\"" + formID + "-message\" name=\"message\" rows=\"5\" required></textarea>\n")
	builder.WriteString("<button type=\"submit\">" + sanitize.EscapeHTML(submitLabel) + "</button>\n")
	builder.WriteString("<div class=\"form-panel form-panel-success\">Thank you! Your message has been sent.</div>\n")
	builder.WriteString("<div class=\"form-panel form-panel-error\">Something went wrong. Please try again.</div>\n")
	builder.WriteString("</form>\n")
	builder.WriteString("</section>\n")
}

// writeContactFormScript emits the inline submit handler. The document stays
// self-contained: no external script dependencies.
func (renderer *Renderer) writeContactFormScript(builder *strings.Builder) {
	builder.WriteString("<script>\n")
	builder.WriteString("document.querySelectorAll('.contact-form').forEach(function (form) {\n")
	builder.WriteString("  form.addEventListener('submit', function (event) {\n")
	builder.WriteString("    event.preventDefault();\n")
	builder.WriteString("    var success = form.querySelector('.form-panel-success');\n")
	builder.WriteString("    var failure = form.querySelector('.form-panel-error');\n")
	builder.WriteString("    success.style.display = 'none';\n")
	builder.WriteString("    failure.style.display = 'none';\n")
	builder.WriteString("    fetch(form.action, { method: 'POST', body: new FormData(form), headers: { 'Accept': 'application/json' } })\n")
	builder.WriteString("      .then(function (response) {\n")
	builder.WriteString("        if (response.ok) {\n")
	builder.WriteString("          success.style.display = 'block';\n")
	builder.WriteString("          form.reset();\n")
	builder.WriteString("        } else {\n")
	builder.WriteString("          failure.style.display = 'block';\n")
	builder.WriteString("        }\n")
	builder.WriteString("      })\n")
	builder.WriteString("      .catch(function () { failure.style.display = 'block'; });\n")
	builder.WriteString("  });\n")
	builder.WriteString("});\n")
	builder.WriteString("</script>\n")
}

func blockClassNames(base string, block model.Block) string {
	classNames := base + " " + alignmentClassName(block.Alignment)
	if effectClass := effectClassName(block.Effect); effectClass != "" {
		classNames += " " + effectClass
	}
	return classNames
}

func alignmentClassName(alignment model.Alignment) string {
	switch model.NormalizeAlignment(alignment) {
	case model.AlignmentCenter:
		return "align-center"
	case model.AlignmentRight:
		return "align-right"
	default:
		return "align-left"
	}
}

func effectClassName(effect model.Effect) string {
	switch model.NormalizeEffect(effect) {
	case model.EffectShadow:
		return "fx-shadow"
	case model.EffectGlow:
		return "fx-glow"
	default:
		return ""
	}
}

func colorStyleAttribute(rawColor string, fallback string) string {
	color := sanitize.ValidateColor(rawColor, fallback)
	if color == "" {
		return ""
	}
	return " style=\"color: " + color + ";\""
}
