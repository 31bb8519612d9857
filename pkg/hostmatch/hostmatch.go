// Package hostmatch decides whether an outbound URL targets a watched host.
package hostmatch

import (
	"net/url"
	"strings"
)

// DefaultHosts are the Telegram endpoints guarded when no hosts are configured.
var DefaultHosts = []string{"telegram.org", "api.telegram.org"}

// Matcher is immutable once built and safe for concurrent use.
type Matcher struct {
	hosts map[string]struct{}
	list  []string
}

// New builds a matcher for the given hosts. Hosts are compared
// case-insensitively and must match exactly (no implicit subdomains).
func New(hosts ...string) *Matcher {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	m := &Matcher{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = normalizeHost(h)
		if h == "" {
			continue
		}
		if _, ok := m.hosts[h]; ok {
			continue
		}
		m.hosts[h] = struct{}{}
		m.list = append(m.list, h)
	}
	return m
}

// Default returns a matcher for [DefaultHosts].
func Default() *Matcher {
	return New(DefaultHosts...)
}

// Match reports whether rawURL is an http(s) URL whose host is watched.
// Unparsable or relative URLs never match.
func (m *Matcher) Match(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Opaque != "" {
		return false
	}
	_, ok := m.hosts[normalizeHost(u.Hostname())]
	return ok
}

// Hosts returns the watched hosts in configuration order.
func (m *Matcher) Hosts() []string {
	return append([]string(nil), m.list...)
}

// Patterns returns DevTools Fetch URL patterns covering every watched host.
// They are deliberately wide; Match is still applied to each paused request.
func (m *Matcher) Patterns() []string {
	patterns := make([]string, 0, len(m.list))
	for _, h := range m.list {
		patterns = append(patterns, "*://"+h+"*")
	}
	return patterns
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
