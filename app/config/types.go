package config

// Site is one configured scraping source.
type Site struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Type is "rss" or "html". RSS sources go through the feed parser,
	// HTML sources through link extraction.
	Type string `yaml:"type"`
}

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// Keywords maps a recipient email to the keywords it is interested in.
type Keywords map[string][]string

type keywordsFile struct {
	Keywords Keywords `yaml:"keywords"`
}
