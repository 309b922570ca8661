// Package sync runs restores: it discovers session files, feeds
// their events through one tracker, and materializes the result.
// A Watcher reruns the restore whenever the input grows.
package sync

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/wesm/sessionrestore/internal/filestate"
	"github.com/wesm/sessionrestore/internal/ledger"
	"github.com/wesm/sessionrestore/internal/materialize"
	"github.com/wesm/sessionrestore/internal/parser"
)

// Options configures a restore.
type Options struct {
	Input  string // session file or directory
	Output string // output root

	// Root is the prefix recorded paths must fall under. When
	// empty, the first cwd recorded in the input is used, then the
	// process working directory.
	Root    string
	Exclude []string

	EditPolicy    filestate.EditPolicy
	PartialPolicy filestate.PartialPolicy

	DryRun     bool
	ReportPath string // also write the report here
	LedgerPath string // record the run in this SQLite file
	Verbose    bool   // print one line per event and file

	Out io.Writer // progress and report; nil discards
}

// Engine orchestrates discovery, resolution, and output.
type Engine struct {
	opts         Options
	out          io.Writer
	runMu        gosync.Mutex // serializes runs
	mu           gosync.RWMutex
	lastRun      time.Time
	lastRunStats RunStats
	now          func() time.Time
}

// NewEngine creates a restore engine.
func NewEngine(opts Options) *Engine {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Engine{opts: opts, out: out, now: time.Now}
}

// LastRun returns the time of the last completed run.
func (e *Engine) LastRun() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRun
}

// LastRunStats returns statistics from the last run.
func (e *Engine) LastRunStats() RunStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRunStats
}

// Run performs one full restore. Every run starts from a fresh
// tracker, so rerunning over a grown log rebuilds every path from
// its complete history. Only a missing input, or input of which no
// session file could be read, is an error; per-line and per-path
// problems are counted and reported.
func (e *Engine) Run(onProgress ProgressFunc) (RunStats, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	t0 := e.now()
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	report(Progress{Phase: PhaseDiscovering})

	files, err := parser.DiscoverSessionFiles(e.opts.Input)
	if err != nil {
		return RunStats{}, err
	}

	var stats RunStats
	stats.Files = len(files)
	stats.Root = e.resolveRoot(files)
	filter := parser.PathFilter{
		Root:    stats.Root,
		Exclude: e.opts.Exclude,
	}

	tracker := filestate.NewTracker(
		filestate.WithEditPolicy(e.opts.EditPolicy),
		filestate.WithPartialPolicy(e.opts.PartialPolicy),
	)
	x := parser.NewExtractor(filter)
	var recorded []parser.Event
	inputs := make([]parser.FileStats, 0, len(files))
	skips := make(parser.SkipCounts)

	progress := Progress{Phase: PhaseParsing, FilesTotal: len(files)}
	report(progress)
	for i, f := range files {
		progress.CurrentFile = f.Path
		st, err := parser.ParseSessionFile(f.Path, i, x,
			func(ev parser.Event) {
				if err := tracker.Add(ev); err != nil {
					log.Printf("restore: %v", err)
					return
				}
				if e.opts.Verbose {
					e.printEvent(ev)
				}
				if e.opts.LedgerPath != "" {
					recorded = append(recorded, ev)
				}
			})
		if err != nil {
			log.Printf("restore: %v", err)
			stats.RecordFailed(err.Error())
		}
		if st.Path != "" {
			st.Subagent = f.Subagent
			inputs = append(inputs, st)
			skips.Merge(st.Skips)
			stats.Lines += st.Lines
			stats.Events += st.Events
		}
		progress.FilesDone++
		progress.EventsExtracted = stats.Events
		report(progress)
	}
	if stats.Failed == len(files) {
		return stats, fmt.Errorf(
			"no readable session files in %s", e.opts.Input,
		)
	}
	stats.Skipped = skips.Total()

	report(Progress{
		Phase: PhaseResolving, FilesTotal: len(files),
		FilesDone: len(files), EventsExtracted: stats.Events,
	})
	resolutions := tracker.ResolveAll()
	stats.Paths = len(resolutions)
	stats.StaleEdits = tracker.Stats().StaleEdits

	report(Progress{
		Phase: PhaseWriting, FilesTotal: len(files),
		FilesDone: len(files), EventsExtracted: stats.Events,
	})
	m := &materialize.Materializer{
		Filter: filter,
		Output: e.opts.Output,
		DryRun: e.opts.DryRun,
	}
	result := m.Materialize(resolutions)
	stats.Written = len(result.Written)
	stats.Incomplete = len(result.Incomplete)
	stats.WriteFailed = len(result.Failed)
	if e.opts.Verbose {
		for _, w := range result.Written {
			fmt.Fprintf(e.out, "  Created: %s\n",
				materialize.DisplayPath(w.Dest, e.opts.Output))
		}
	}

	summary := materialize.Summary{
		Inputs:   inputs,
		Failed:   stats.Warnings,
		Output:   e.opts.Output,
		Root:     stats.Root,
		Paths:    stats.Paths,
		Stats:    tracker.Stats(),
		Skips:    skips,
		Result:   result,
		DryRun:   e.opts.DryRun,
		EditMode: e.opts.EditPolicy.String(),
	}
	if err := materialize.WriteReport(e.out, summary); err != nil {
		log.Printf("restore: printing report: %v", err)
	}
	if e.opts.ReportPath != "" {
		if err := materialize.WriteReportFile(
			e.opts.ReportPath, summary,
		); err != nil {
			log.Printf("restore: %v", err)
		}
	}

	if e.opts.LedgerPath != "" {
		id, err := e.recordLedger(t0, inputs, stats.Root,
			recorded, resolutions, skips)
		if err != nil {
			log.Printf("restore: ledger: %v", err)
		} else {
			stats.LedgerRunID = id
		}
	}

	stats.Duration = e.now().Sub(t0)
	report(Progress{
		Phase: PhaseDone, FilesTotal: len(files),
		FilesDone: len(files), EventsExtracted: stats.Events,
	})

	e.mu.Lock()
	e.lastRun = e.now()
	e.lastRunStats = stats
	e.mu.Unlock()
	return stats, nil
}

// resolveRoot returns the configured root, else the first cwd any
// session file records, else the working directory.
func (e *Engine) resolveRoot(files []parser.DiscoveredFile) string {
	if e.opts.Root != "" {
		return filepath.Clean(e.opts.Root)
	}
	for _, f := range files {
		if cwd := parser.ExtractCwdFromSession(f.Path); cwd != "" {
			log.Printf("restore: using session cwd %s as root", cwd)
			return filepath.Clean(cwd)
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("restore: no root prefix: %v", err)
		return ""
	}
	return wd
}

// printEvent writes one progress line for ev.
func (e *Engine) printEvent(ev parser.Event) {
	tag := "[" + strings.ToUpper(string(ev.Kind)) + "]"
	switch ev.Kind {
	case parser.KindEdit:
		fmt.Fprintf(e.out, "%-8s %s\n", tag, ev.Path)
	case parser.KindRead:
		suffix := ""
		if ev.Partial {
			suffix = ", partial"
		}
		fmt.Fprintf(e.out, "%-8s %s (%d bytes%s)\n",
			tag, ev.Path, len(ev.Content), suffix)
	default:
		fmt.Fprintf(e.out, "%-8s %s (%d bytes)\n",
			tag, ev.Path, len(ev.Content))
	}
}

func (e *Engine) recordLedger(
	started time.Time,
	inputs []parser.FileStats,
	root string,
	events []parser.Event,
	resolutions []filestate.Resolution,
	skips parser.SkipCounts,
) (int64, error) {
	l, err := ledger.Open(e.opts.LedgerPath)
	if err != nil {
		return 0, err
	}
	defer l.Close()

	paths := make([]string, len(inputs))
	for i, in := range inputs {
		paths[i] = in.Path
	}
	return l.RecordRun(ledger.Run{
		StartedAt:   started,
		Inputs:      paths,
		Output:      e.opts.Output,
		Root:        root,
		EditMode:    e.opts.EditPolicy.String(),
		DryRun:      e.opts.DryRun,
		Events:      events,
		Resolutions: resolutions,
		Skips:       skips,
	})
}

// NewInputWatcher returns a watcher over the engine's input that
// reruns the restore after session files change. Runs happen on
// the watcher goroutine, one at a time.
func (e *Engine) NewInputWatcher(
	debounce time.Duration,
) (*Watcher, error) {
	input := filepath.Clean(e.opts.Input)
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", input, err)
	}

	match := func(path string) bool {
		return strings.HasSuffix(path, ".jsonl")
	}
	if !info.IsDir() {
		match = func(path string) bool {
			return filepath.Clean(path) == input
		}
	}

	w, err := NewWatcher(debounce, match, func(paths []string) {
		stats, err := e.Run(nil)
		if err != nil {
			log.Printf("watcher: restore failed: %v", err)
			return
		}
		log.Printf(
			"watcher: restored %d of %d paths in %s",
			stats.Written, stats.Paths,
			stats.Duration.Round(time.Millisecond),
		)
	})
	if err != nil {
		return nil, err
	}
	if _, err := w.WatchInput(input); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
