package filter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scrapiens/scrapiens/app/history"
)

// Filter computes, per recipient, the candidate subset eligible for
// sending. It only reads the delivery history; dry and real runs produce
// identical statistics.
type Filter struct {
	deliveries history.DeliveryStore
	policy     Policy
	today      time.Time
	workers    int
}

// New creates a filter that evaluates deadlines against processingDate.
func New(deliveries history.DeliveryStore, policy Policy, processingDate time.Time, workers int) *Filter {
	if workers < 1 {
		workers = 1
	}
	return &Filter{
		deliveries: deliveries,
		policy:     policy,
		today:      dateOnly(processingDate),
		workers:    workers,
	}
}

// Decide applies the exclusion rules to one candidate in fixed order and
// tags it with the first matching reason only.
func (f *Filter) Decide(recipient string, c Candidate) (Decision, error) {
	if f.policy.ExcludeAlreadySent {
		attempted, outcome, err := f.deliveries.WasDelivered(c.GrantID, recipient)
		if err != nil {
			return Decision{}, fmt.Errorf("delivery lookup for %s: %w", c.GrantID, err)
		}
		// A prior failed attempt never suppresses candidacy.
		if attempted && outcome == history.OutcomeDelivered {
			return Decision{Candidate: c, Reason: ReasonAlreadySent}, nil
		}
	}

	if f.policy.ExcludeFailedExtraction && !c.ExtractionOK {
		return Decision{Candidate: c, Reason: ReasonFailedExtraction}, nil
	}

	if f.policy.ExcludeExpiredDeadline && c.Deadline != nil {
		if dateOnly(*c.Deadline).Before(f.today) {
			return Decision{Candidate: c, Reason: ReasonDeadlineExpired}, nil
		}
	}

	return Decision{Candidate: c, Included: true}, nil
}

// FilterRecipient evaluates all candidates of one recipient and produces
// its report.
func (f *Filter) FilterRecipient(recipient string, candidates []Candidate) (RecipientReport, error) {
	report := RecipientReport{
		Recipient: recipient,
		Total:     len(candidates),
		Excluded:  make(map[Reason]int),
		Included:  make([]Candidate, 0, len(candidates)),
	}

	for _, c := range candidates {
		decision, err := f.Decide(recipient, c)
		if err != nil {
			return RecipientReport{}, err
		}
		if decision.Included {
			report.Included = append(report.Included, decision.Candidate)
		} else {
			report.Excluded[decision.Reason]++
		}
	}

	return report, nil
}

// Run filters every recipient's candidates and rolls the per-recipient
// reports up into a global one. Recipients are independent during
// filtering, so the work is fanned out across a bounded worker pool; the
// delivery history is only read.
func (f *Filter) Run(byRecipient map[string][]Candidate) (*Report, error) {
	recipients := make([]string, 0, len(byRecipient))
	for r := range byRecipient {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	reports := make([]RecipientReport, len(recipients))
	errs := make([]error, len(recipients))

	var wg sync.WaitGroup
	sem := make(chan struct{}, f.workers)
	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			reports[i], errs[i] = f.FilterRecipient(recipient, byRecipient[recipient])
		}(i, recipient)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	report := &Report{
		ProcessedAt:   time.Now(),
		Recipients:    reports,
		TotalExcluded: make(map[Reason]int),
	}
	for _, r := range reports {
		report.Total += r.Total
		report.TotalIncluded += len(r.Included)
		for reason, n := range r.Excluded {
			report.TotalExcluded[reason] += n
		}
	}

	slog.Info("Candidate filtering complete",
		"recipients", len(reports),
		"total", report.Total,
		"included", report.TotalIncluded,
		"already_sent", report.TotalExcluded[ReasonAlreadySent],
		"failed_extraction", report.TotalExcluded[ReasonFailedExtraction],
		"deadline_expired", report.TotalExcluded[ReasonDeadlineExpired])

	return report, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
