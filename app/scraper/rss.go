package scraper

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSExtractor pulls links out of RSS/Atom feed data.
type RSSExtractor struct {
	parser *gofeed.Parser
}

func NewRSSExtractor() *RSSExtractor {
	return &RSSExtractor{parser: gofeed.NewParser()}
}

// Extract parses feed data and returns one link per item. Items without a
// link are skipped.
func (e *RSSExtractor) Extract(data []byte, source string) ([]Link, error) {
	feed, err := e.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	now := time.Now()
	links := make([]Link, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		links = append(links, Link{
			URL:       item.Link,
			Title:     item.Title,
			Source:    source,
			FetchedAt: now,
		})
	}

	return links, nil
}
