package match

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/scrapiens/scrapiens/app/config"
	"github.com/scrapiens/scrapiens/app/filter"
)

// Matcher associates candidates with recipients by finding recipient
// keywords in the candidate text. Keywords are matched case-insensitively
// on word boundaries, so "art" never matches "particle".
type Matcher struct {
	keywordToRecipients map[string][]string
	patterns            map[string]*regexp.Regexp
}

// NewMatcher builds the inverted keyword index. Keywords are normalized
// to lowercase; the same keyword shared by several recipients is compiled
// once.
func NewMatcher(keywords config.Keywords) *Matcher {
	m := &Matcher{
		keywordToRecipients: make(map[string][]string),
		patterns:            make(map[string]*regexp.Regexp),
	}

	for email, list := range keywords {
		for _, keyword := range list {
			kw := strings.ToLower(strings.TrimSpace(keyword))
			if kw == "" {
				continue
			}
			if _, ok := m.patterns[kw]; !ok {
				m.patterns[kw] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
			}
			m.keywordToRecipients[kw] = append(m.keywordToRecipients[kw], email)
		}
	}

	return m
}

// Match groups candidates by interested recipient. Each returned
// candidate carries the keywords that matched for that recipient, sorted
// for stable output. Candidates that match no keyword are dropped.
func (m *Matcher) Match(candidates []filter.Candidate) map[string][]filter.Candidate {
	byRecipient := make(map[string][]filter.Candidate)

	for _, c := range candidates {
		text := searchableText(c)
		if text == "" {
			continue
		}

		recipientKeywords := make(map[string][]string)
		for kw, pattern := range m.patterns {
			if !pattern.MatchString(text) {
				continue
			}
			for _, email := range m.keywordToRecipients[kw] {
				recipientKeywords[email] = append(recipientKeywords[email], kw)
			}
		}

		for email, kws := range recipientKeywords {
			sort.Strings(kws)
			tagged := c
			tagged.Keywords = kws
			byRecipient[email] = append(byRecipient[email], tagged)
		}
	}

	slog.Info("Keyword matching complete",
		"candidates", len(candidates), "matched_recipients", len(byRecipient))

	return byRecipient
}

// searchableText prefers the extracted abstract and falls back to the
// title, mirroring what the extraction stage can actually promise.
func searchableText(c filter.Candidate) string {
	if c.Abstract != "" {
		return c.Abstract + " " + c.Title
	}
	return c.Title
}
