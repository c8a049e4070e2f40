// Package validation sanitizes user input and enforces field formats and
// length limits. Content classification lives in the moderation package.
package validation

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sunder-social/sunder-api/internal/config"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// FieldError describes an invalid input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validator applies the configured limits.
type Validator struct {
	policy               *bluemonday.Policy
	maxUsernameLength    int
	maxDisplayNameLength int
	maxBioLength         int
	maxPostLength        int
}

// New creates a Validator from the moderation limits.
func New(cfg config.ModerationConfig) *Validator {
	return &Validator{
		policy:               bluemonday.StrictPolicy(),
		maxUsernameLength:    cfg.MaxUsernameLength,
		maxDisplayNameLength: cfg.MaxDisplayNameLength,
		maxBioLength:         cfg.MaxBioLength,
		maxPostLength:        cfg.MaxPostLength,
	}
}

// Sanitize strips all HTML markup and trims surrounding whitespace. The
// result is plain text; entities produced by the sanitizer are decoded.
func (v *Validator) Sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(v.policy.Sanitize(s)))
}

// Username sanitizes and checks a username and returns its stored
// (lowercase) form.
func (v *Validator) Username(raw string) (string, error) {
	s := v.Sanitize(raw)
	if s == "" {
		return "", &FieldError{Field: "username", Message: "is required"}
	}
	if n := utf8.RuneCountInString(s); n > v.maxUsernameLength {
		return "", &FieldError{Field: "username", Message: fmt.Sprintf("must be at most %d characters", v.maxUsernameLength)}
	}
	if !usernameRegex.MatchString(s) {
		return "", &FieldError{Field: "username", Message: "may only contain letters, numbers and underscores"}
	}
	return strings.ToLower(s), nil
}

// DisplayName sanitizes and length-checks a display name. Empty is allowed.
func (v *Validator) DisplayName(raw string) (string, error) {
	return v.bounded("display_name", raw, v.maxDisplayNameLength, false)
}

// Bio sanitizes and length-checks a bio. Empty is allowed.
func (v *Validator) Bio(raw string) (string, error) {
	return v.bounded("bio", raw, v.maxBioLength, false)
}

// PostContent sanitizes and checks post or reply content, which must not be
// empty.
func (v *Validator) PostContent(raw string) (string, error) {
	return v.bounded("content", raw, v.maxPostLength, true)
}

// ImageURL checks an avatar or banner URL. Empty clears the image.
func (v *Validator) ImageURL(field, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &FieldError{Field: field, Message: "must be an http(s) URL"}
	}
	return u.String(), nil
}

func (v *Validator) bounded(field, raw string, max int, required bool) (string, error) {
	s := v.Sanitize(raw)
	if required && s == "" {
		return "", &FieldError{Field: field, Message: "is required"}
	}
	if utf8.RuneCountInString(s) > max {
		return "", &FieldError{Field: field, Message: fmt.Sprintf("must be at most %d characters", max)}
	}
	return s, nil
}

// EscapeHTML escapes text for direct inclusion in HTML.
func EscapeHTML(s string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
		"/", "&#x2F;",
	).Replace(s)
}
