package stages

import (
	"net/url"
	"strings"

	"github.com/scrapiens/scrapiens/app/scraper"
)

// CanonicalURL normalizes a URL for cross-site deduplication: the host is
// lowercased, the fragment dropped and a trailing slash on the path
// removed. Query strings are kept since they distinguish real grant pages
// on several funder portals.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// Deduplicate collapses links whose canonical URLs collide, keeping the
// first occurrence. Site ordering is preserved so earlier configured
// sites win ties.
func Deduplicate(results []scraper.SiteResult) []scraper.Link {
	seen := make(map[string]bool)
	var out []scraper.Link

	for _, result := range results {
		for _, link := range result.Links {
			canonical := CanonicalURL(link.URL)
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			link.URL = canonical
			out = append(out, link)
		}
	}

	return out
}
