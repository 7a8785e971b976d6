package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// LinkExtractor pulls outbound links out of an HTML page.
type LinkExtractor struct{}

func NewLinkExtractor() *LinkExtractor {
	return &LinkExtractor{}
}

// Extract parses HTML and returns every same-document or absolute link,
// resolved against baseURL. Fragments, mailto and javascript targets are
// dropped.
func (e *LinkExtractor) Extract(data []byte, baseURL, source string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}

	now := time.Now()
	seen := make(map[string]bool)
	var links []Link

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""

		target := resolved.String()
		if seen[target] {
			return
		}
		seen[target] = true

		links = append(links, Link{
			URL:       target,
			Title:     strings.TrimSpace(sel.Text()),
			Source:    source,
			FetchedAt: now,
		})
	})

	return links, nil
}
