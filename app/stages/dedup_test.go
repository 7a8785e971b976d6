package stages

import (
	"testing"

	"github.com/scrapiens/scrapiens/app/scraper"
)

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		raw      string
		expected string
	}{
		{"https://Grants.Example.COM/calls/", "https://grants.example.com/calls"},
		{"https://grants.example.com/calls#section-2", "https://grants.example.com/calls"},
		{"https://grants.example.com/", "https://grants.example.com/"},
		{"https://grants.example.com/calls?id=42", "https://grants.example.com/calls?id=42"},
		{"https://grants.example.com/calls", "https://grants.example.com/calls"},
	}

	for _, c := range cases {
		if got := CanonicalURL(c.raw); got != c.expected {
			t.Errorf("CanonicalURL(%q) = %q, expected %q", c.raw, got, c.expected)
		}
	}
}

func TestDeduplicateCollapsesAcrossSites(t *testing.T) {
	results := []scraper.SiteResult{
		{
			Site: "funder-a",
			Links: []scraper.Link{
				{URL: "https://grants.example.com/call-1", Title: "Call One", Source: "funder-a"},
				{URL: "https://grants.example.com/call-2/", Title: "Call Two", Source: "funder-a"},
			},
		},
		{
			Site: "funder-b",
			Links: []scraper.Link{
				{URL: "https://GRANTS.example.com/call-1#apply", Title: "Call 1 (mirror)", Source: "funder-b"},
				{URL: "https://grants.example.com/call-3", Title: "Call Three", Source: "funder-b"},
			},
		},
	}

	links := Deduplicate(results)
	if len(links) != 3 {
		t.Fatalf("expected 3 unique links, got %d", len(links))
	}
	if links[0].Source != "funder-a" || links[0].Title != "Call One" {
		t.Errorf("expected first occurrence to win, got %+v", links[0])
	}
	if links[1].URL != "https://grants.example.com/call-2" {
		t.Errorf("expected canonical URL in output, got %q", links[1].URL)
	}
}

func TestDeduplicateEmpty(t *testing.T) {
	if links := Deduplicate(nil); len(links) != 0 {
		t.Errorf("expected no links, got %d", len(links))
	}
}
