package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scrapiens/scrapiens/app/config"
	"github.com/scrapiens/scrapiens/app/history"
)

// Scraper fetches configured sites and produces per-site link results,
// consulting the cross-run seen-URL store so URLs already processed by any
// past run are dropped at the source.
type Scraper struct {
	client    *http.Client
	userAgent string
	rss       *RSSExtractor
	html      *LinkExtractor
}

func NewScraper(userAgent string) *Scraper {
	return &Scraper{
		client:    &http.Client{Timeout: 60 * time.Second},
		userAgent: userAgent,
		rss:       NewRSSExtractor(),
		html:      NewLinkExtractor(),
	}
}

// Run scrapes every site and returns one result per site. A site that
// fails to fetch gets its error recorded instead of aborting the stage;
// the seen-URL store is only updated with links that were kept.
func (s *Scraper) Run(ctx context.Context, sites []config.Site, seen *history.SeenStore) ([]SiteResult, error) {
	results := make([]SiteResult, 0, len(sites))

	for _, site := range sites {
		result := SiteResult{Site: site.Name, URL: site.URL}

		links, err := s.scrapeSite(ctx, site)
		if err != nil {
			slog.Error("Site scrape failed", "site", site.Name, "error", err)
			result.FetchError = err.Error()
			results = append(results, result)
			continue
		}

		urls := make([]string, 0, len(links))
		byURL := make(map[string]Link, len(links))
		for _, l := range links {
			if _, ok := byURL[l.URL]; ok {
				continue
			}
			byURL[l.URL] = l
			urls = append(urls, l.URL)
		}

		unseen, seenCount := seen.FilterUnseen(urls)
		result.AlreadySeen = seenCount
		for _, u := range unseen {
			result.Links = append(result.Links, byURL[u])
		}

		if err := seen.RecordSeen(unseen); err != nil {
			return nil, fmt.Errorf("failed to record seen URLs for %s: %w", site.Name, err)
		}

		slog.Info("Scraped site", "site", site.Name, "links", len(result.Links), "already_seen", seenCount)
		results = append(results, result)
	}

	return results, nil
}

func (s *Scraper) scrapeSite(ctx context.Context, site config.Site) ([]Link, error) {
	data, err := s.fetch(ctx, site.URL)
	if err != nil {
		return nil, err
	}

	switch site.Type {
	case "rss":
		return s.rss.Extract(data, site.Name)
	default:
		return s.html.Extract(data, site.URL, site.Name)
	}
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)
	}

	return io.ReadAll(resp.Body)
}
