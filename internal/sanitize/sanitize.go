// Package sanitize cleans profile data before it is published to the rest of the
// application.
//
// Profile fields can be set by untrusted input upstream (a seller typing their
// own name, an admin tool, a provider display name), so nothing from the backend
// reaches a renderer without passing through here first.
package sanitize

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// UploadsPrefix is the only relative picture path the backend is known to serve.
const UploadsPrefix = "/uploads/"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

var validate = validator.New()

// EscapeHTML replaces the HTML-special characters & < > " ' / with their
// entities. The output never contains a raw occurrence of any of them except
// the & that starts an entity.
func EscapeHTML(s string) string {
	if s == "" {
		return s
	}
	return htmlEscaper.Replace(s)
}

// PictureURL keeps a profile picture only when it is safe to hand to a renderer:
//
//   - "/uploads/..." is rewritten to an absolute URL on origin
//   - an absolute http or https URL is kept
//   - anything else (javascript:, data:, protocol-relative, garbage) becomes ""
//
// Kept URLs are re-encoded, so the result never carries a raw quote, angle
// bracket, backtick, backslash or whitespace.
func PictureURL(raw, origin string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, UploadsPrefix) {
		if strings.Contains(raw, "..") {
			return ""
		}
		return reencode(strings.TrimRight(origin, "/") + raw)
	}

	if IsHTTPURL(raw) {
		return reencode(raw)
	}
	return ""
}

const unsafeURLChars = "\"'<>`\\ \t\r\n"

// reencode re-serializes raw so the path and fragment are percent-encoded.
// The query is kept verbatim by net/url, so anything still unsafe is dropped.
func reencode(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	out := u.String()
	if strings.ContainsAny(out, unsafeURLChars) {
		return ""
	}
	return out
}

// IsHTTPURL reports whether s is a syntactically valid absolute http(s) URL.
func IsHTTPURL(s string) bool {
	return validate.Var(s, "required,http_url") == nil
}
