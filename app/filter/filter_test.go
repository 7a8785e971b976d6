package filter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/scrapiens/scrapiens/app/history"
)

func newDeliveries(t *testing.T) *history.JSONDeliveryStore {
	t.Helper()
	s, err := history.OpenDeliveries(filepath.Join(t.TempDir(), "sent_grants.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func deadline(t *testing.T, value string) *time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatal(err)
	}
	return &ts
}

var processingDate = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestFilter_AlreadyDeliveredExcluded(t *testing.T) {
	deliveries := newDeliveries(t)
	if err := deliveries.RecordDelivery("https://a.example/grant/1", "a@x.com", history.OutcomeDelivered, "msg-1", time.Now()); err != nil {
		t.Fatal(err)
	}

	f := New(deliveries, DefaultPolicy(), processingDate, 1)

	// Recipient a@x.com has two candidates, one already delivered; the
	// default filter returns exactly the undelivered one.
	candidates := []Candidate{
		{GrantID: "https://a.example/grant/1", ExtractionOK: true},
		{GrantID: "https://a.example/grant/2", ExtractionOK: true},
	}
	report, err := f.FilterRecipient("a@x.com", candidates)
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Included) != 1 || report.Included[0].GrantID != "https://a.example/grant/2" {
		t.Errorf("Expected only the undelivered grant, got %+v", report.Included)
	}
	if report.Excluded[ReasonAlreadySent] != 1 {
		t.Errorf("Expected already_sent: 1, got %v", report.Excluded)
	}
}

func TestFilter_DeliveredNeverIncludedAgain(t *testing.T) {
	deliveries := newDeliveries(t)
	f := New(deliveries, DefaultPolicy(), processingDate, 1)

	candidate := Candidate{GrantID: "https://a.example/grant/1", ExtractionOK: true}

	// Record delivery repeatedly; the grant must stay excluded.
	for i := 0; i < 3; i++ {
		if err := deliveries.RecordDelivery(candidate.GrantID, "a@x.com", history.OutcomeDelivered, "msg", time.Now()); err != nil {
			t.Fatal(err)
		}
		decision, err := f.Decide("a@x.com", candidate)
		if err != nil {
			t.Fatal(err)
		}
		if decision.Included {
			t.Fatalf("Delivered grant re-included on attempt %d", i)
		}
		if decision.Reason != ReasonAlreadySent {
			t.Errorf("Expected already_sent reason, got %s", decision.Reason)
		}
	}
}

func TestFilter_FailedAttemptDoesNotSuppress(t *testing.T) {
	deliveries := newDeliveries(t)
	if err := deliveries.RecordDelivery("https://a.example/grant/1", "a@x.com", history.OutcomeFailed, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	f := New(deliveries, DefaultPolicy(), processingDate, 1)
	decision, err := f.Decide("a@x.com", Candidate{GrantID: "https://a.example/grant/1", ExtractionOK: true})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Included {
		t.Errorf("A failed attempt must never exclude via the already-sent rule, got reason %s", decision.Reason)
	}
}

func TestFilter_FailedExtraction(t *testing.T) {
	f := New(newDeliveries(t), DefaultPolicy(), processingDate, 1)

	decision, err := f.Decide("a@x.com", Candidate{GrantID: "https://a.example/grant/1", ExtractionOK: false})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Included || decision.Reason != ReasonFailedExtraction {
		t.Errorf("Expected failed_extraction exclusion, got %+v", decision)
	}

	// Retry-failed mode: toggling the rule off re-includes the candidate.
	retry := DefaultPolicy()
	retry.ExcludeFailedExtraction = false
	f = New(newDeliveries(t), retry, processingDate, 1)
	decision, err = f.Decide("a@x.com", Candidate{GrantID: "https://a.example/grant/1", ExtractionOK: false})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Included {
		t.Errorf("retry-failed mode must include failed extractions, got %+v", decision)
	}
}

func TestFilter_ExpiredDeadline(t *testing.T) {
	f := New(newDeliveries(t), DefaultPolicy(), processingDate, 1)

	past := Candidate{GrantID: "https://a.example/grant/1", ExtractionOK: true, Deadline: deadline(t, "2026-01-10")}
	decision, err := f.Decide("a@x.com", past)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Included || decision.Reason != ReasonDeadlineExpired {
		t.Errorf("Deadline strictly in the past must be excluded, got %+v", decision)
	}

	// Same-day deadline is not strictly before the processing date.
	sameDay := Candidate{GrantID: "https://a.example/grant/2", ExtractionOK: true, Deadline: deadline(t, "2026-01-15")}
	decision, err = f.Decide("a@x.com", sameDay)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Included {
		t.Errorf("Same-day deadline must be included, got %+v", decision)
	}

	include := DefaultPolicy()
	include.ExcludeExpiredDeadline = false
	f = New(newDeliveries(t), include, processingDate, 1)
	decision, err = f.Decide("a@x.com", past)
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Included {
		t.Errorf("include-expired mode must include past deadlines, got %+v", decision)
	}
}

func TestFilter_NoDeadlineNeverExpires(t *testing.T) {
	f := New(newDeliveries(t), DefaultPolicy(), processingDate, 1)

	decision, err := f.Decide("a@x.com", Candidate{GrantID: "https://a.example/grant/1", ExtractionOK: true})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Included {
		t.Errorf("Candidate without deadline must always pass the deadline rule, got %+v", decision)
	}
}

func TestFilter_FirstMatchingReasonWins(t *testing.T) {
	deliveries := newDeliveries(t)
	if err := deliveries.RecordDelivery("https://a.example/grant/1", "a@x.com", history.OutcomeDelivered, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	f := New(deliveries, DefaultPolicy(), processingDate, 1)

	// Candidate matches all three rules; only the first may be reported.
	c := Candidate{
		GrantID:      "https://a.example/grant/1",
		ExtractionOK: false,
		Deadline:     deadline(t, "2020-01-01"),
	}
	decision, err := f.Decide("a@x.com", c)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Reason != ReasonAlreadySent {
		t.Errorf("Expected first rule to win, got %s", decision.Reason)
	}
}

func TestFilter_GlobalRollUp(t *testing.T) {
	deliveries := newDeliveries(t)
	if err := deliveries.RecordDelivery("https://a.example/grant/1", "a@x.com", history.OutcomeDelivered, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	f := New(deliveries, DefaultPolicy(), processingDate, 4)

	byRecipient := map[string][]Candidate{
		"a@x.com": {
			{GrantID: "https://a.example/grant/1", ExtractionOK: true},
			{GrantID: "https://a.example/grant/2", ExtractionOK: true},
		},
		"b@x.com": {
			{GrantID: "https://a.example/grant/1", ExtractionOK: true},
			{GrantID: "https://a.example/grant/3", ExtractionOK: false},
			{GrantID: "https://a.example/grant/4", ExtractionOK: true, Deadline: deadline(t, "2025-12-01")},
		},
	}

	report, err := f.Run(byRecipient)
	if err != nil {
		t.Fatal(err)
	}

	if report.Total != 5 {
		t.Errorf("Expected 5 candidates considered, got %d", report.Total)
	}
	if report.TotalIncluded != 3 {
		t.Errorf("Expected 3 included, got %d", report.TotalIncluded)
	}
	if report.TotalExcluded[ReasonAlreadySent] != 1 {
		t.Errorf("Expected 1 already_sent (delivery to a@x.com does not affect b@x.com), got %d", report.TotalExcluded[ReasonAlreadySent])
	}
	if report.TotalExcluded[ReasonFailedExtraction] != 1 || report.TotalExcluded[ReasonDeadlineExpired] != 1 {
		t.Errorf("Unexpected exclusion counts: %v", report.TotalExcluded)
	}

	// Reports come back in deterministic recipient order.
	if report.Recipients[0].Recipient != "a@x.com" || report.Recipients[1].Recipient != "b@x.com" {
		t.Errorf("Expected sorted recipient order, got %s, %s", report.Recipients[0].Recipient, report.Recipients[1].Recipient)
	}
}

func TestFilter_DryRunStatisticsMatchRealRun(t *testing.T) {
	deliveries := newDeliveries(t)
	if err := deliveries.RecordDelivery("https://a.example/grant/1", "a@x.com", history.OutcomeDelivered, "", time.Now()); err != nil {
		t.Fatal(err)
	}
	before, err := deliveries.Stats()
	if err != nil {
		t.Fatal(err)
	}

	f := New(deliveries, DefaultPolicy(), processingDate, 2)
	byRecipient := map[string][]Candidate{
		"a@x.com": {
			{GrantID: "https://a.example/grant/1", ExtractionOK: true},
			{GrantID: "https://a.example/grant/2", ExtractionOK: false},
		},
	}

	// Filtering is read-only, so "dry" and "real" runs are the same
	// computation; what matters is that the history is untouched and the
	// numbers are stable across passes.
	first, err := f.Run(byRecipient)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.Run(byRecipient)
	if err != nil {
		t.Fatal(err)
	}

	if first.Total != second.Total || first.TotalIncluded != second.TotalIncluded {
		t.Errorf("Filter statistics differ between passes: %+v vs %+v", first, second)
	}
	for _, reason := range Reasons {
		if first.TotalExcluded[reason] != second.TotalExcluded[reason] {
			t.Errorf("Exclusion counts differ for %s", reason)
		}
	}

	after, err := deliveries.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if after.RecordCount != before.RecordCount {
		t.Errorf("Filtering must not write to the delivery history: %d -> %d", before.RecordCount, after.RecordCount)
	}
}
