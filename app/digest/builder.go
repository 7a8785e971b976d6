package digest

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/scrapiens/scrapiens/app/filter"
)

// Digest is the email-ready grouping of included candidates, one entry
// per recipient. The filter already made every inclusion decision; this
// stage only arranges its final output.
type Digest struct {
	GeneratedAt time.Time         `json:"generated_at"`
	RunDate     string            `json:"run_date"`
	Recipients  []RecipientDigest `json:"recipients"`
	TotalGrants int               `json:"total_grants"`
}

// RecipientDigest is one recipient's digest entry.
type RecipientDigest struct {
	Email       string             `json:"email"`
	DisplayName string             `json:"display_name"`
	Grants      []filter.Candidate `json:"grants"`
	Keywords    []string           `json:"keywords"`
}

// Builder turns a filter report into a digest.
type Builder struct {
	titleCaser cases.Caser
}

func NewBuilder() *Builder {
	return &Builder{titleCaser: cases.Title(language.English)}
}

// Build groups the report's included candidates per recipient. Recipients
// with nothing to send are omitted entirely rather than producing empty
// digests.
func (b *Builder) Build(report *filter.Report, runDate string) *Digest {
	digest := &Digest{
		GeneratedAt: time.Now(),
		RunDate:     runDate,
	}

	for _, rr := range report.Recipients {
		if len(rr.Included) == 0 {
			continue
		}

		keywords := collectKeywords(rr.Included)
		digest.Recipients = append(digest.Recipients, RecipientDigest{
			Email:       rr.Recipient,
			DisplayName: b.displayName(rr.Recipient),
			Grants:      rr.Included,
			Keywords:    keywords,
		})
		digest.TotalGrants += len(rr.Included)
	}

	sort.Slice(digest.Recipients, func(i, j int) bool {
		return digest.Recipients[i].Email < digest.Recipients[j].Email
	})

	slog.Info("Digest built",
		"recipients", len(digest.Recipients), "grants", digest.TotalGrants)

	return digest
}

// displayName derives a human-looking name from the local part of the
// address: "jane.doe@x.com" becomes "Jane Doe".
func (b *Builder) displayName(email string) string {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	local = strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local)
	return b.titleCaser.String(local)
}

func collectKeywords(grants []filter.Candidate) []string {
	set := make(map[string]bool)
	for _, g := range grants {
		for _, kw := range g.Keywords {
			set[kw] = true
		}
	}
	keywords := make([]string, 0, len(set))
	for kw := range set {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	return keywords
}
