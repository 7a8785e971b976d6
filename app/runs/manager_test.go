package runs

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, date string) *Manager {
	t.Helper()
	m := NewManager(t.TempDir())
	m.now = func() time.Time {
		ts, err := time.Parse(dateLayout, date)
		if err != nil {
			t.Fatalf("bad test date %q: %v", date, err)
		}
		return ts
	}
	return m
}

func TestResolve_FullPipelineCreatesTodaysRun(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if run.Date != "20260101" {
		t.Errorf("Expected run date 20260101, got %s", run.Date)
	}

	statuses, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(statuses))
	}
	if statuses[0].Complete {
		t.Errorf("Fresh run should be incomplete")
	}
}

func TestResolve_SameRunAcrossConsecutiveStages(t *testing.T) {
	m := newTestManager(t, "20260101")

	first, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStageComplete(first, "scrape"); err != nil {
		t.Fatal(err)
	}

	// Completing stage N and resolving stage N+1 on the same day must
	// land in the same run.
	second, err := m.Resolve("deduplicate", false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Date != first.Date {
		t.Errorf("Expected continuation of run %s, got %s", first.Date, second.Date)
	}
}

func TestResolve_IncompleteRunContinued(t *testing.T) {
	// Run 20260101 has scrape and deduplicate; a request for classify
	// appends to it, a subsequent full-pipeline scrape creates 20260102.
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"scrape", "deduplicate"} {
		if err := m.MarkStageComplete(run, s); err != nil {
			t.Fatal(err)
		}
	}

	classifyRun, err := m.Resolve("classify", false)
	if err != nil {
		t.Fatal(err)
	}
	if classifyRun.Date != "20260101" {
		t.Errorf("classify should continue run 20260101, got %s", classifyRun.Date)
	}
	if err := m.ValidatePrerequisites(classifyRun, "classify"); err != nil {
		t.Errorf("classify prerequisites should hold: %v", err)
	}

	m.now = func() time.Time {
		ts, _ := time.Parse(dateLayout, "20260102")
		return ts
	}
	pipelineRun, err := m.Resolve("scrape", true)
	if err != nil {
		t.Fatal(err)
	}
	if pipelineRun.Date != "20260102" {
		t.Errorf("Full pipeline should create 20260102, got %s", pipelineRun.Date)
	}
}

func TestResolve_StageAlreadyPresentStartsNewRun(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStageComplete(run, "scrape"); err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time {
		ts, _ := time.Parse(dateLayout, "20260103")
		return ts
	}
	again, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if again.Date != "20260103" {
		t.Errorf("Repeated scrape should start a new run, got %s", again.Date)
	}
}

func TestResolve_MissingPrerequisitesStartsNewRun(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStageComplete(run, "scrape"); err != nil {
		t.Fatal(err)
	}

	// extract needs deduplicate and classify first; the incomplete run
	// cannot serve it, so a new run is created, and validation on that
	// new run must fail loudly.
	m.now = func() time.Time {
		ts, _ := time.Parse(dateLayout, "20260102")
		return ts
	}
	extractRun, err := m.Resolve("extract", false)
	if err != nil {
		t.Fatal(err)
	}
	if extractRun.Date != "20260102" {
		t.Errorf("Expected fresh run 20260102, got %s", extractRun.Date)
	}

	err = m.ValidatePrerequisites(extractRun, "extract")
	var missing *MissingPrerequisiteError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingPrerequisiteError, got %v", err)
	}
	if missing.Missing != "scrape" {
		t.Errorf("Expected first unmet prerequisite scrape, got %s", missing.Missing)
	}
}

func TestValidatePrerequisites_NamesFirstUnmet(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStageComplete(run, "scrape"); err != nil {
		t.Fatal(err)
	}
	// classify completed out of band, deduplicate missing.
	if err := m.MarkStageComplete(run, "classify"); err != nil {
		t.Fatal(err)
	}

	err = m.ValidatePrerequisites(run, "extract")
	var missing *MissingPrerequisiteError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingPrerequisiteError, got %v", err)
	}
	if missing.Missing != "deduplicate" {
		t.Errorf("Expected deduplicate as first unmet, got %s", missing.Missing)
	}
}

func TestMarkStageComplete_Idempotent(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStageComplete(run, "scrape"); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkStageComplete(run, "scrape"); err != nil {
		t.Fatal(err)
	}

	status, err := m.Status(run)
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Stages) != 1 {
		t.Errorf("Expected scrape recorded once, got %v", status.Stages)
	}
}

func TestStagePath_Deterministic(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}

	path, err := m.StagePath(run, "match-keywords")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(run.Dir, "05_match_keywords")
	if path != want {
		t.Errorf("Expected %s, got %s", want, path)
	}

	again, _ := m.StagePath(run, "match-keywords")
	if again != path {
		t.Errorf("StagePath must be deterministic")
	}
}

func TestStatus_CompleteAfterAllStages(t *testing.T) {
	m := newTestManager(t, "20260101")

	run, err := m.Resolve("scrape", true)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range Stages {
		if err := m.MarkStageComplete(run, s.Name); err != nil {
			t.Fatal(err)
		}
	}

	status, err := m.Status(run)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Complete {
		t.Errorf("Run with all six stages should be complete: %v", status.Stages)
	}

	// A complete run is never continued; the next stage request starts fresh.
	m.now = func() time.Time {
		ts, _ := time.Parse(dateLayout, "20260105")
		return ts
	}
	next, err := m.Resolve("scrape", false)
	if err != nil {
		t.Fatal(err)
	}
	if next.Date != "20260105" {
		t.Errorf("Complete run must not be continued, got %s", next.Date)
	}
}

func TestList_NewestFirst(t *testing.T) {
	m := newTestManager(t, "20260101")
	if _, err := m.Resolve("scrape", true); err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time {
		ts, _ := time.Parse(dateLayout, "20260103")
		return ts
	}
	if _, err := m.Resolve("scrape", true); err != nil {
		t.Fatal(err)
	}

	statuses, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(statuses))
	}
	if statuses[0].Date != "20260103" || statuses[1].Date != "20260101" {
		t.Errorf("Expected newest first, got %s, %s", statuses[0].Date, statuses[1].Date)
	}
}

func TestLoadIndex_DuplicateDateFailsLoudly(t *testing.T) {
	m := newTestManager(t, "20260101")
	if _, err := m.Resolve("scrape", true); err != nil {
		t.Fatal(err)
	}

	// Tamper with the index so two records share a date.
	idx, err := m.loadIndex()
	if err != nil {
		t.Fatal(err)
	}
	idx.Runs = append(idx.Runs, Record{Date: "20260101", CreatedAt: time.Now()})
	if err := m.mutateIndex(func(i *index) error { i.Runs = idx.Runs; return nil }); err == nil {
		// mutateIndex reloads (detecting nothing yet) and writes the
		// duplicate; the next load must then fail.
		_, loadErr := m.loadIndex()
		var ambiguous *AmbiguousRunError
		if !errors.As(loadErr, &ambiguous) {
			t.Fatalf("Expected AmbiguousRunError, got %v", loadErr)
		}
		if ambiguous.Date != "20260101" {
			t.Errorf("Expected date 20260101 in error, got %s", ambiguous.Date)
		}
		if !strings.Contains(ambiguous.Error(), "ambiguous") {
			t.Errorf("Error message should mention ambiguity: %s", ambiguous.Error())
		}
	}
}

func TestResolve_UnknownStage(t *testing.T) {
	m := newTestManager(t, "20260101")

	_, err := m.Resolve("publish", false)
	var unknown *UnknownStageError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownStageError, got %v", err)
	}
}
