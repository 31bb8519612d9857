// Package detect scores text for credential-like content.
package detect

import (
	"regexp"
	"strings"
)

// DefaultLexicon holds the sensitive-term stems screened in every context.
var DefaultLexicon = []string{
	"password", "pass", "pwd", "passcode", "passphrase",
	"username", "user", "login",
	"email", "mail",
	"token", "secret", "key", "api", "auth",
	"credential", "creds", "account",
	"ip", "address", "client",
	"session", "cookie", "bearer",
	"otp", "code", "2fa", "mfa",
}

// PageLexicon extends DefaultLexicon for code running inside a page, where
// the browser fingerprint is also worth guarding.
var PageLexicon = append(append([]string(nil), DefaultLexicon...), "user-agent")

// fieldMarkers run against the original-case text. They catch the two
// highest-value fields in strictly delimited encodings.
var fieldMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)email\s*[:=]`),
	regexp.MustCompile(`(?i)password\s*[:=]`),
	regexp.MustCompile(`(?i)\|(?:password|email):`),
	regexp.MustCompile(`(?i)"(?:password|email)"\s*:`),
}

// Detector is immutable and safe for concurrent use.
type Detector struct {
	pattern *regexp.Regexp
}

// New compiles a detector for the given stems.
// An empty lexicon falls back to DefaultLexicon.
func New(lexicon ...string) *Detector {
	stems := quoteStems(lexicon)
	if len(stems) == 0 {
		stems = quoteStems(DefaultLexicon)
	}
	alt := strings.Join(stems, "|")
	return &Detector{
		pattern: regexp.MustCompile(`(?i)(` + alt + `)\s*[:=]|\b(` + alt + `)\b`),
	}
}

func quoteStems(words []string) []string {
	stems := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			stems = append(stems, regexp.QuoteMeta(w))
		}
	}
	return stems
}

var (
	defaultDetector = New(DefaultLexicon...)
	pageDetector    = New(PageLexicon...)
)

// Default returns the shared detector for DefaultLexicon.
func Default() *Detector { return defaultDetector }

// Page returns the shared detector for PageLexicon.
func Page() *Detector { return pageDetector }

// ContainsSuspicious reports whether text holds a lexicon term, either as a
// key followed by ':' or '=' or as a whole word, or one of the strict
// email/password field markers. Empty text is never suspicious.
func (d *Detector) ContainsSuspicious(text string) bool {
	if d == nil || text == "" {
		return false
	}
	if d.pattern.MatchString(strings.ToLower(text)) {
		return true
	}
	for _, re := range fieldMarkers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Inspect is ContainsSuspicious for values of unknown type.
// Anything other than a string or non-nil *string is not suspicious.
func (d *Detector) Inspect(v any) bool {
	switch t := v.(type) {
	case string:
		return d.ContainsSuspicious(t)
	case *string:
		if t != nil {
			return d.ContainsSuspicious(*t)
		}
	}
	return false
}

// Match returns the first matching fragment, or "" when text is clean.
func (d *Detector) Match(text string) string {
	if d == nil || text == "" {
		return ""
	}
	if m := d.pattern.FindString(strings.ToLower(text)); m != "" {
		return m
	}
	for _, re := range fieldMarkers {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}
