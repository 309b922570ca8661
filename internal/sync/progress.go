package sync

import "time"

// Phase describes the current restore phase.
type Phase string

const (
	PhaseDiscovering Phase = "discovering"
	PhaseParsing     Phase = "parsing"
	PhaseResolving   Phase = "resolving"
	PhaseWriting     Phase = "writing"
	PhaseDone        Phase = "done"
)

// Progress reports restore progress to listeners.
type Progress struct {
	Phase           Phase  `json:"phase"`
	CurrentFile     string `json:"current_file,omitempty"`
	FilesTotal      int    `json:"files_total"`
	FilesDone       int    `json:"files_done"`
	EventsExtracted int    `json:"events_extracted"`
}

// RunStats summarizes a full restore run.
//
// Files counts discovered session files and Failed the ones that
// could not be read. Written counts paths whose content reached
// the output tree; Incomplete counts paths listed as incomplete,
// which includes write failures (WriteFailed).
type RunStats struct {
	Root        string        `json:"root"`
	Files       int           `json:"files"`
	Failed      int           `json:"failed"`
	Lines       int           `json:"lines"`
	Events      int           `json:"events"`
	Skipped     int           `json:"skipped"`
	Paths       int           `json:"paths"`
	Written     int           `json:"written"`
	Incomplete  int           `json:"incomplete"`
	WriteFailed int           `json:"write_failed"`
	StaleEdits  int           `json:"stale_edits"`
	LedgerRunID int64         `json:"ledger_run_id,omitempty"`
	Duration    time.Duration `json:"duration"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// RecordFailed counts an unreadable session file.
func (s *RunStats) RecordFailed(warning string) {
	s.Failed++
	s.Warnings = append(s.Warnings, warning)
}

// Percent returns the parse progress as a percentage (0–100).
func (p Progress) Percent() float64 {
	if p.FilesTotal == 0 {
		return 0
	}
	return float64(p.FilesDone) /
		float64(p.FilesTotal) * 100
}

// ProgressFunc is called with progress updates during a run.
type ProgressFunc func(Progress)
