package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// deadlineWindow is how much text after a "deadline" mention is scanned
// for a date.
const deadlineWindow = 160

var datePattern = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}` +
	`|\d{1,2}[./]\d{1,2}[./]\d{4}` +
	`|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+(?:January|February|March|April|May|June|July|August|September|October|November|December),?\s+\d{4})\b`)

var ordinalSuffix = regexp.MustCompile(`(?i)(\d{1,2})(st|nd|rd|th)`)

// FindDeadline scans extracted page text for a date mentioned near the
// word "deadline". Returns nil when no parseable date is found; absence
// of a deadline is a valid state, not an error.
func FindDeadline(text string) *time.Time {
	lower := strings.ToLower(text)

	for offset := 0; ; {
		idx := strings.Index(lower[offset:], "deadline")
		if idx < 0 {
			return nil
		}
		start := offset + idx
		end := start + deadlineWindow
		if end > len(text) {
			end = len(text)
		}

		if parsed := firstDate(text[start:end]); parsed != nil {
			return parsed
		}
		offset = start + len("deadline")
	}
}

func firstDate(window string) *time.Time {
	for _, match := range datePattern.FindAllString(window, -1) {
		cleaned := ordinalSuffix.ReplaceAllString(match, "$1")
		parsed, err := dateparse.ParseAny(cleaned)
		if err != nil {
			continue
		}
		parsed = parsed.UTC()
		return &parsed
	}
	return nil
}
