// Package domainkey derives the filesystem-safe DomainKey that namespaces
// every persisted entity (§3), and implements the request-level resolution
// precedence of §6.
package domainkey

import (
	"regexp"
	"strings"

	"github.com/bfscrawl/sink/internal/common/urlutil"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9.-]`)

// Default is the sentinel DomainKey used when no domain hint can be
// resolved from a request.
const Default = "default"

// FromHost derives a DomainKey from a bare host string: lowercase, strip a
// leading "www.", replace non-[a-z0-9.-] characters with '_', trim
// leading/trailing underscores. Empty input yields Default.
func FromHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimPrefix(h, "www.")
	h = unsafeChars.ReplaceAllString(h, "_")
	h = strings.Trim(h, "_")
	if h == "" {
		return Default
	}
	return h
}

// FromURL extracts the host from a full URL string and derives its
// DomainKey.
func FromURL(rawURL string) string {
	host := urlutil.ExtractHost(rawURL)
	host = urlutil.ExtractHostname(host)
	return FromHost(host)
}

// RequestHints carries the fields a handler consults, in precedence order,
// to resolve a request's DomainKey per §6.
type RequestHints struct {
	DomainKey string
	Domain    string
	CrawlRoot string
	RootURL   string
	BaseURL   string
	URL       string
	Visited   []string
	Pages     []string
	Files     []string
}

// Resolve applies §6's domain key resolution precedence: explicit
// domain_key/domain; else crawl_root/root_url/base_url -> host; else url ->
// host; else the first URL found in visited|pages|files -> host; else
// Default.
func Resolve(h RequestHints) string {
	if h.DomainKey != "" {
		return FromHost(h.DomainKey)
	}
	if h.Domain != "" {
		return FromHost(h.Domain)
	}
	for _, candidate := range []string{h.CrawlRoot, h.RootURL, h.BaseURL} {
		if candidate != "" {
			if key := FromURL(candidate); key != Default {
				return key
			}
		}
	}
	if h.URL != "" {
		if key := FromURL(h.URL); key != Default {
			return key
		}
	}
	for _, list := range [][]string{h.Visited, h.Pages, h.Files} {
		for _, u := range list {
			if u == "" {
				continue
			}
			if key := FromURL(u); key != Default {
				return key
			}
		}
	}
	return Default
}
