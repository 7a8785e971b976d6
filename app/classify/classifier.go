package classify

import (
	"context"
	"strings"

	"github.com/scrapiens/scrapiens/app/scraper"
)

// Category is the link classification produced ahead of extraction.
type Category string

const (
	CategorySingleGrant Category = "single_grant"
	CategoryGrantList   Category = "grant_list"
	CategoryOther       Category = "other"
)

// Classification is the per-link classify stage output.
type Classification struct {
	Link     scraper.Link `json:"link"`
	Category Category     `json:"category"`
}

// Classifier decides what kind of page a link points to. The production
// deployment plugs in an AI-backed implementation; the tracker only
// depends on this interface.
type Classifier interface {
	Classify(ctx context.Context, links []scraper.Link) ([]Classification, error)
}

// RuleClassifier is a heuristic fallback that classifies by URL and title
// tokens. Good enough for sources whose URL structure is stable.
type RuleClassifier struct{}

var _ Classifier = (*RuleClassifier)(nil)

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var listTokens = []string{"calls", "search", "opportunities", "tenders", "list", "overview"}

var grantTokens = []string{"grant", "call", "funding", "fellowship", "tender", "topic"}

func (c *RuleClassifier) Classify(_ context.Context, links []scraper.Link) ([]Classification, error) {
	out := make([]Classification, 0, len(links))
	for _, link := range links {
		out = append(out, Classification{Link: link, Category: categorize(link)})
	}
	return out, nil
}

func categorize(link scraper.Link) Category {
	haystack := strings.ToLower(link.URL + " " + link.Title)

	for _, token := range listTokens {
		if strings.Contains(haystack, token) {
			return CategoryGrantList
		}
	}
	for _, token := range grantTokens {
		if strings.Contains(haystack, token) {
			return CategorySingleGrant
		}
	}
	return CategoryOther
}
