package filter

import "time"

// Reason is the single authoritative exclusion reason of a filter
// decision. Rules are evaluated in a fixed order, so a candidate carries
// at most one reason even when several rules would match.
type Reason string

const (
	ReasonAlreadySent      Reason = "already_sent"
	ReasonFailedExtraction Reason = "failed_extraction"
	ReasonDeadlineExpired  Reason = "deadline_expired"
)

// Reasons lists every exclusion reason in rule order.
var Reasons = []Reason{ReasonAlreadySent, ReasonFailedExtraction, ReasonDeadlineExpired}

// Candidate is a grant under consideration for delivery to a recipient in
// the current run. It is rebuilt from extraction output every run, never
// persisted on its own. GrantID is the canonical source URL.
type Candidate struct {
	GrantID      string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Abstract     string     `json:"abstract,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	ExtractionOK bool       `json:"extraction_ok"`
	Keywords     []string   `json:"matched_keywords,omitempty"`
}

// Policy holds the three independently togglable exclusion rules. All
// default to true; each CLI flag flips exactly one field.
type Policy struct {
	ExcludeAlreadySent      bool
	ExcludeFailedExtraction bool
	ExcludeExpiredDeadline  bool
}

// DefaultPolicy returns the policy with every exclusion enabled.
func DefaultPolicy() Policy {
	return Policy{
		ExcludeAlreadySent:      true,
		ExcludeFailedExtraction: true,
		ExcludeExpiredDeadline:  true,
	}
}

// Decision is the per-(candidate, recipient) outcome.
type Decision struct {
	Candidate Candidate `json:"candidate"`
	Included  bool      `json:"included"`
	Reason    Reason    `json:"reason,omitempty"`
}

// RecipientReport aggregates decisions for one recipient. The per-reason
// counts are a first-class output consumed verbatim by digest building
// and the admin alert.
type RecipientReport struct {
	Recipient string         `json:"recipient"`
	Total     int            `json:"total"`
	Excluded  map[Reason]int `json:"excluded"`
	Included  []Candidate    `json:"included"`
}

// Report is the global roll-up across all recipients.
type Report struct {
	ProcessedAt   time.Time         `json:"processed_at"`
	Recipients    []RecipientReport `json:"recipients"`
	Total         int               `json:"total"`
	TotalIncluded int               `json:"total_included"`
	TotalExcluded map[Reason]int    `json:"total_excluded"`
}
