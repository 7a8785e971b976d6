package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/scrapiens/scrapiens/app/filter"
	"github.com/scrapiens/scrapiens/app/scraper"
)

const abstractLimit = 600

// PageExtractor turns a classified grant link into a candidate by
// fetching the page and extracting readable text and a deadline. The AI
// enrichment used in production sits behind the same shape; the tracker
// only needs the candidate fields.
type PageExtractor struct {
	client    *http.Client
	userAgent string
}

func NewPageExtractor(userAgent string) *PageExtractor {
	return &PageExtractor{
		client:    &http.Client{Timeout: 60 * time.Second},
		userAgent: userAgent,
	}
}

// Extract builds a candidate for one link. Fetch and parse failures
// produce a candidate with ExtractionOK unset rather than an error, so a
// single broken page never aborts the stage and the failure is visible to
// the filter's failed-extraction rule.
func (e *PageExtractor) Extract(ctx context.Context, link scraper.Link) filter.Candidate {
	candidate := filter.Candidate{GrantID: link.URL, Title: link.Title}

	data, err := e.fetch(ctx, link.URL)
	if err != nil {
		slog.Warn("Page fetch failed", "url", link.URL, "error", err)
		return candidate
	}

	pageURL, err := url.Parse(link.URL)
	if err != nil {
		slog.Warn("Unparseable grant URL", "url", link.URL, "error", err)
		return candidate
	}

	article, err := readability.FromReader(strings.NewReader(string(data)), pageURL)
	if err != nil {
		slog.Warn("Content extraction failed", "url", link.URL, "error", err)
		return candidate
	}
	if article.TextContent == "" {
		slog.Warn("No content extracted", "url", link.URL)
		return candidate
	}

	if article.Title != "" {
		candidate.Title = article.Title
	}
	candidate.Abstract = truncate(strings.TrimSpace(article.TextContent), abstractLimit)
	candidate.Deadline = FindDeadline(article.TextContent)
	candidate.ExtractionOK = true

	slog.Debug("Extracted candidate",
		"url", link.URL,
		"title", candidate.Title,
		"has_deadline", candidate.Deadline != nil)

	return candidate
}

func (e *PageExtractor) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
