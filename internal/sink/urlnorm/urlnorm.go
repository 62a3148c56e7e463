// Package urlnorm canonicalizes crawl-discovered URLs, grounded on the
// teacher's internal/edge/hash/normalizer.go (entity cleanup, fragment
// stripping, query canonicalization, xxhash digesting) but reshaped to the
// sink's own normalization contract (§4.1): idempotent and stable across
// duplicate query pairs and HTML-entity noise.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var entityReplacers = []struct {
	pattern string
	replace string
}{
	{"&amp;", "&"},
	{"%26amp%3B", "&"},
	{"amp%3B", ""},
	{"amp;", ""},
}

const maxEntityFixupIterations = 8

var extensionPattern = regexp.MustCompile(`(?i)\.([a-z0-9]+)(?:[?#]|$)`)

// Normalize canonicalizes raw per §4.1: fixed-point entity cleanup, parse,
// clear fragment, strip trailing /index.html, collapse duplicate slashes in
// the path, rebuild the query keeping the first occurrence of each (key,
// value) pair, and serialize. On parse failure it returns the
// entity-cleaned, trimmed input unchanged.
func Normalize(raw string) string {
	cleaned := fixEntities(strings.TrimSpace(raw))

	u, err := url.Parse(cleaned)
	if err != nil {
		return cleaned
	}

	u.Fragment = ""
	u.RawFragment = ""

	u.Path = strings.TrimSuffix(u.Path, "index.html")
	if u.Path == "" {
		u.Path = "/"
	}
	u.Path = collapseSlashes(u.Path)

	u.RawQuery = dedupeQuery(u.RawQuery)

	return u.String()
}

// Extension extracts and lowercases a URL's file extension, defaulting to
// "bin" when none is found, per §4.1.
func Extension(rawURL string) string {
	m := extensionPattern.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return "bin"
	}
	return strings.ToLower(m[1])
}

// Hash returns a 16-hex-digit xxhash digest of the normalized URL. No sink
// package calls it; frontier dedupe sets are keyed by the URL string
// itself. It is never used as a persisted content identifier; persisted
// identity is always SHA-256 (see internal/sink/upload).
func Hash(normalizedURL string) string {
	h := xxhash.Sum64String(normalizedURL)
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf)
}

func fixEntities(s string) string {
	for i := 0; i < maxEntityFixupIterations; i++ {
		next := s
		for _, r := range entityReplacers {
			next = strings.ReplaceAll(next, r.pattern, r.replace)
		}
		if next == s {
			break
		}
		s = next
	}
	return s
}

func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// dedupeQuery rebuilds a raw query string, keeping the first occurrence of
// each exact (key, value) pair and dropping exact duplicates while
// preserving original ordering.
func dedupeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	seen := make(map[string]struct{})
	var kept []string

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		kept = append(kept, pair)
	}

	return strings.Join(kept, "&")
}

// StableUniq returns items with duplicates removed, keeping the first
// occurrence of each, per §4.3's stableUniq ordering rule.
func StableUniq(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
