package plan

import (
	"regexp"
	"strings"
)

var (
	domainLabel = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)
	domainTLD   = regexp.MustCompile(`^[a-z]{2,}$`)
	portSuffix  = regexp.MustCompile(`:[0-9]+$`)
)

// ParseDomain reports whether normalized text is a bare domain or URL
// fragment ("go.dev", "https://www.github.com/x") and returns its host
// without scheme, "www." prefix, port or path.
func ParseDomain(text string) (string, bool) {
	if text == "" || strings.ContainsAny(text, " \t\r\n") {
		return "", false
	}

	s := text
	if i := strings.Index(s, "://"); i >= 0 {
		scheme := s[:i]
		if scheme != "http" && scheme != "https" {
			return "", false
		}
		s = s[i+3:]
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = portSuffix.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "www.")

	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return "", false
	}
	for _, label := range labels {
		if len(label) > 63 || !domainLabel.MatchString(label) {
			return "", false
		}
	}
	if !domainTLD.MatchString(labels[len(labels)-1]) {
		return "", false
	}

	return s, true
}
