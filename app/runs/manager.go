package runs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/scrapiens/scrapiens/app/store"
)

const dateLayout = "20060102"

// Manager decides which dated run a stage writes into, validates stage
// prerequisites and tracks completion in a persistent index.
type Manager struct {
	runsDir   string
	indexPath string
	now       func() time.Time
}

// NewManager creates a manager rooted at dataDir. Run folders and the run
// index live under dataDir/runs.
func NewManager(dataDir string) *Manager {
	runsDir := filepath.Join(dataDir, "runs")
	return &Manager{
		runsDir:   runsDir,
		indexPath: filepath.Join(runsDir, "index.json"),
		now:       time.Now,
	}
}

func (m *Manager) loadIndex() (*index, error) {
	var idx index
	if err := store.Load(m.indexPath, &idx); err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return &index{}, nil
		}
		return nil, err
	}

	seen := make(map[string]bool, len(idx.Runs))
	for _, r := range idx.Runs {
		if seen[r.Date] {
			return nil, &AmbiguousRunError{Date: r.Date}
		}
		seen[r.Date] = true
	}

	return &idx, nil
}

// mutateIndex applies fn to a freshly loaded index and writes it back with
// optimistic version checking. A concurrent writer is retried once, then
// reported as a write conflict.
func (m *Manager) mutateIndex(fn func(*index) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		idx, err := m.loadIndex()
		if err != nil {
			return err
		}
		loaded := idx.Version

		if err := fn(idx); err != nil {
			return err
		}

		current, err := store.Version(m.indexPath)
		if err != nil {
			return err
		}
		if current != loaded {
			slog.Warn("Run index changed underneath us, retrying", "loaded", loaded, "current", current)
			continue
		}

		idx.Version = loaded + 1
		return store.Replace(m.indexPath, idx)
	}

	return fmt.Errorf("run index %s: %w", m.indexPath, store.ErrWriteConflict)
}

// Resolve decides which run the named stage should write into.
//
// A full-pipeline invocation always targets today's date, starting from
// stage one; if a run already exists for today it is reused and its stage
// outputs rebuilt. A single-stage invocation continues the most recent
// run when that run is incomplete, does not yet contain the stage and
// contains all of its prerequisites; otherwise a new run dated today is
// created.
func (m *Manager) Resolve(stageName string, fullPipeline bool) (Run, error) {
	stage, ok := StageByName(stageName)
	if !ok {
		return Run{}, &UnknownStageError{Stage: stageName}
	}

	today := m.now().Format(dateLayout)

	if fullPipeline {
		if err := m.ensureRun(today); err != nil {
			return Run{}, err
		}
		slog.Info("Full pipeline run targets today's folder", "date", today)
		return m.run(today), nil
	}

	idx, err := m.loadIndex()
	if err != nil {
		return Run{}, err
	}

	if recent := mostRecent(idx); recent != nil && !recent.Complete() && !recent.HasStage(stage.Name) {
		if missing := firstMissingPrerequisite(recent, stage); missing == "" {
			slog.Info("Continuing incomplete run", "date", recent.Date, "stage", stage.Name)
			return m.run(recent.Date), nil
		} else {
			slog.Warn("Most recent run is missing prerequisites, starting a new run",
				"date", recent.Date, "stage", stage.Name, "missing", missing)
		}
	}

	if err := m.ensureRun(today); err != nil {
		return Run{}, err
	}
	slog.Info("Starting new run", "date", today, "stage", stage.Name)
	return m.run(today), nil
}

// ValidatePrerequisites fails with a MissingPrerequisiteError naming the
// first unmet prerequisite of stageName within run.
func (m *Manager) ValidatePrerequisites(run Run, stageName string) error {
	stage, ok := StageByName(stageName)
	if !ok {
		return &UnknownStageError{Stage: stageName}
	}

	rec, err := m.record(run.Date)
	if err != nil {
		return err
	}

	if missing := firstMissingPrerequisite(rec, stage); missing != "" {
		return &MissingPrerequisiteError{Date: run.Date, Stage: stage.Name, Missing: missing}
	}
	return nil
}

// StagePath returns the storage location for a stage within a run. It is
// derived purely from the run date and the stage's canonical folder name.
func (m *Manager) StagePath(run Run, stageName string) (string, error) {
	stage, ok := StageByName(stageName)
	if !ok {
		return "", &UnknownStageError{Stage: stageName}
	}
	return filepath.Join(m.runsDir, run.Date, stage.Folder), nil
}

// EnsureStagePath creates the stage folder if needed and returns it.
func (m *Manager) EnsureStagePath(run Run, stageName string) (string, error) {
	path, err := m.StagePath(run, stageName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create stage folder %s: %w", path, err)
	}
	return path, nil
}

// MarkStageComplete records stage completion in the run index. Re-marking
// an already complete stage is a no-op.
func (m *Manager) MarkStageComplete(run Run, stageName string) error {
	stage, ok := StageByName(stageName)
	if !ok {
		return &UnknownStageError{Stage: stageName}
	}

	return m.mutateIndex(func(idx *index) error {
		for i := range idx.Runs {
			if idx.Runs[i].Date != run.Date {
				continue
			}
			if !idx.Runs[i].HasStage(stage.Name) {
				idx.Runs[i].Stages = append(idx.Runs[i].Stages, stage.Name)
			}
			return nil
		}
		return fmt.Errorf("run %s not found in index", run.Date)
	})
}

// List returns the status of every known run, most recent first.
func (m *Manager) List() ([]Status, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}

	sorted := make([]Record, len(idx.Runs))
	copy(sorted, idx.Runs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date > sorted[j].Date })

	statuses := make([]Status, 0, len(sorted))
	for _, r := range sorted {
		statuses = append(statuses, Status{
			Date:      r.Date,
			CreatedAt: r.CreatedAt,
			Complete:  r.Complete(),
			Stages:    append([]string(nil), r.Stages...),
		})
	}
	return statuses, nil
}

// Status reports completion state for a single run.
func (m *Manager) Status(run Run) (Status, error) {
	rec, err := m.record(run.Date)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Date:      rec.Date,
		CreatedAt: rec.CreatedAt,
		Complete:  rec.Complete(),
		Stages:    append([]string(nil), rec.Stages...),
	}, nil
}

func (m *Manager) run(date string) Run {
	return Run{Date: date, Dir: filepath.Join(m.runsDir, date)}
}

func (m *Manager) record(date string) (*Record, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	for i := range idx.Runs {
		if idx.Runs[i].Date == date {
			return &idx.Runs[i], nil
		}
	}
	return nil, fmt.Errorf("run %s not found in index", date)
}

func (m *Manager) ensureRun(date string) error {
	return m.mutateIndex(func(idx *index) error {
		for _, r := range idx.Runs {
			if r.Date == date {
				return nil
			}
		}
		idx.Runs = append(idx.Runs, Record{Date: date, CreatedAt: m.now()})
		return nil
	})
}

func mostRecent(idx *index) *Record {
	var recent *Record
	for i := range idx.Runs {
		if recent == nil || idx.Runs[i].Date > recent.Date {
			recent = &idx.Runs[i]
		}
	}
	return recent
}

func firstMissingPrerequisite(rec *Record, stage Stage) string {
	for _, s := range Stages {
		if s.Position >= stage.Position {
			break
		}
		if !rec.HasStage(s.Name) {
			return s.Name
		}
	}
	return ""
}
