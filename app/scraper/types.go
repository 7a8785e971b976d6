package scraper

import "time"

// Link is one discovered funding-opportunity URL with its scrape context.
type Link struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SiteResult is the per-site output written into the scrape stage folder.
type SiteResult struct {
	Site        string `json:"site"`
	URL         string `json:"url"`
	Links       []Link `json:"links"`
	AlreadySeen int    `json:"already_seen"`
	FetchError  string `json:"fetch_error,omitempty"`
}
