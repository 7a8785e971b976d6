package runs

import "fmt"

// MissingPrerequisiteError reports the first unmet prerequisite of a
// requested stage within a chosen run. The caller is expected to surface
// it and halt rather than guess which folder to read.
type MissingPrerequisiteError struct {
	Date    string
	Stage   string
	Missing string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("run %s: stage %q requires %q, which has not completed", e.Date, e.Stage, e.Missing)
}

// AmbiguousRunError indicates two run records claiming the same date.
// This cannot happen through the manager itself and means the index was
// tampered with externally; processing must halt rather than pick one.
type AmbiguousRunError struct {
	Date string
}

func (e *AmbiguousRunError) Error() string {
	return fmt.Sprintf("ambiguous run state: two runs share date %s", e.Date)
}

// UnknownStageError reports a stage name outside the pipeline definition.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q", e.Stage)
}
