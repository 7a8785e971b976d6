package runs

import "time"

// Stage is one ordered pipeline step. Position is 1-based; every stage
// with a lower position is a prerequisite.
type Stage struct {
	Name     string
	Folder   string
	Position int
}

// Stages lists the six dated pipeline stages in execution order. The send
// step is not listed: it operates on the latest digest irrespective of run
// date and has no folder inside a run.
var Stages = []Stage{
	{Name: "scrape", Folder: "01_scrape", Position: 1},
	{Name: "deduplicate", Folder: "02_deduplicate", Position: 2},
	{Name: "classify", Folder: "03_classify", Position: 3},
	{Name: "extract", Folder: "04_extract", Position: 4},
	{Name: "match-keywords", Folder: "05_match_keywords", Position: 5},
	{Name: "build-digest", Folder: "06_digests", Position: 6},
}

// StageByName looks up a stage by its canonical name.
func StageByName(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Run identifies one dated execution window. It is a plain value threaded
// through every stage call instead of ambient "current run" state.
type Run struct {
	Date string
	Dir  string
}

// Record is the persisted form of a run in the index.
type Record struct {
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
	Stages    []string  `json:"stages"`
}

// HasStage reports whether the named stage is marked complete.
func (r *Record) HasStage(name string) bool {
	for _, s := range r.Stages {
		if s == name {
			return true
		}
	}
	return false
}

// Complete reports whether all six stages are marked complete.
func (r *Record) Complete() bool {
	for _, s := range Stages {
		if !r.HasStage(s.Name) {
			return false
		}
	}
	return true
}

// Status describes a run for reporting purposes.
type Status struct {
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
	Complete  bool      `json:"complete"`
	Stages    []string  `json:"stages"`
}

type index struct {
	Version int64    `json:"version"`
	Runs    []Record `json:"runs"`
}
