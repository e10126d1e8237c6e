package types

import (
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinTokenLength is the shortest word kept as a lexical token
const MinTokenLength = 2

// NormalizeText canonicalizes free text: NFC, case-folded, trimmed and
// with runs of whitespace collapsed to a single space.
func NormalizeText(s string) string {
	// cases.Caser is stateful, so one per call
	folded := cases.Fold().String(norm.NFC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}

// NormalizeTag canonicalizes a single tag name
func NormalizeTag(name string) string {
	return NormalizeText(strings.TrimLeft(strings.TrimSpace(name), "#"))
}

// NormalizeTags normalizes, deduplicates and sorts tag names.
// Empty names are dropped; an empty result is returned as nil.
func NormalizeTags(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		n := NormalizeTag(name)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// Tokenize splits normalized text into unique tokens in first-seen order.
// Tokens shorter than MinTokenLength are dropped unless nothing else remains.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	seen := make(map[string]struct{}, len(fields))
	long := make([]string, 0, len(fields))
	all := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		all = append(all, f)
		if utf8.RuneCountInString(f) >= MinTokenLength {
			long = append(long, f)
		}
	}
	if len(long) == 0 {
		return all
	}
	return long
}

// DomainOf extracts the registrable host of a URL, lower-cased and without
// a leading "www." or port.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrInvalidURL
	}
	return strings.TrimPrefix(host, "www."), nil
}

// SearchText builds the folded haystack used for lexical matching
func SearchText(title, domain, summary string) string {
	return NormalizeText(title + " " + domain + " " + summary)
}
