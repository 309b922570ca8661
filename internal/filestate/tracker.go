// Package filestate accumulates file events per path and resolves
// each path's final content from its event history.
package filestate

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"

	"github.com/wesm/sessionrestore/internal/parser"
)

// ErrFinalized is returned when an event is added to a path whose
// content has already been resolved.
var ErrFinalized = errors.New("file state already resolved")

// Status is the terminal state of a path's resolution.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusIncomplete Status = "incomplete" // no content observed
)

// Resolution is the outcome of resolving one path.
type Resolution struct {
	Path    string
	Content string
	Status  Status

	Base        parser.EventKind // kind of the base event, "" if none
	BasePartial bool             // base came from a partial Read
	Events      int              // events in the path's history
	Applied     int              // edits applied after the base
	Stale       int              // edits whose old fragment was absent
	Superseded  int              // edits sorted before the base
	Unresolved  int              // edits with no base to apply to
}

// HasContent reports whether the path resolved to content.
func (r Resolution) HasContent() bool {
	return r.Status == StatusResolved
}

// FileState is the append-only event log for one path. It is
// finalized exactly once, when its content is resolved.
type FileState struct {
	Path     string
	events   []parser.Event
	resolved *Resolution
}

// Events returns a copy of the path's events in arrival order.
func (s *FileState) Events() []parser.Event {
	return slices.Clone(s.events)
}

// Finalized reports whether the state has been resolved.
func (s *FileState) Finalized() bool {
	return s.resolved != nil
}

// Stats counts the events a tracker has accepted and, once
// resolved, how the edits fared.
type Stats struct {
	Writes       int
	Reads        int
	PartialReads int
	Edits        int
	AppliedEdits int
	StaleEdits   int
	Superseded   int // edits overwritten by a later full snapshot
}

// Tracker owns every path's event log for one run.
type Tracker struct {
	states  map[string]*FileState
	policy  EditPolicy
	partial PartialPolicy
	stats   Stats
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEditPolicy sets how replace_all is treated.
func WithEditPolicy(p EditPolicy) Option {
	return func(t *Tracker) { t.policy = p }
}

// WithPartialPolicy replaces the fallback used when a path has no
// full snapshot.
func WithPartialPolicy(fn PartialPolicy) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.partial = fn
		}
	}
}

// NewTracker returns an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		states:  make(map[string]*FileState),
		policy:  EditHonorFlag,
		partial: PickBestPartial,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add appends ev to its path's log, creating the log on the
// path's first event.
func (t *Tracker) Add(ev parser.Event) error {
	st, ok := t.states[ev.Path]
	if !ok {
		st = &FileState{Path: ev.Path}
		t.states[ev.Path] = st
	}
	if st.Finalized() {
		return fmt.Errorf("adding %s event to %s: %w",
			ev.Kind, ev.Path, ErrFinalized)
	}
	st.events = append(st.events, ev)

	switch {
	case ev.Kind == parser.KindWrite:
		t.stats.Writes++
	case ev.IsPartialRead():
		t.stats.PartialReads++
	case ev.Kind == parser.KindRead:
		t.stats.Reads++
	case ev.Kind == parser.KindEdit:
		t.stats.Edits++
	}
	return nil
}

// Paths returns every tracked path in sorted order.
func (t *Tracker) Paths() []string {
	paths := make([]string, 0, len(t.states))
	for p := range t.states {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// State returns the state for path.
func (t *Tracker) State(path string) (*FileState, bool) {
	st, ok := t.states[path]
	return st, ok
}

// Stats returns the tracker's counters.
func (t *Tracker) Stats() Stats {
	return t.stats
}

// Resolve computes and finalizes path's content. Resolving an
// already-finalized path returns the stored result. A path with no
// events resolves to incomplete.
func (t *Tracker) Resolve(path string) Resolution {
	st, ok := t.states[path]
	if !ok {
		return Resolution{Path: path, Status: StatusIncomplete}
	}
	if st.resolved != nil {
		return *st.resolved
	}
	res := ResolveEvents(path, st.events, t.policy, t.partial)
	st.resolved = &res
	t.stats.AppliedEdits += res.Applied
	t.stats.StaleEdits += res.Stale
	t.stats.Superseded += res.Superseded
	if res.Stale > 0 {
		log.Printf("restore: %s: %d stale edit(s) skipped",
			path, res.Stale)
	}
	return res
}

// ResolveAll resolves every tracked path in sorted order.
func (t *Tracker) ResolveAll() []Resolution {
	paths := t.Paths()
	out := make([]Resolution, 0, len(paths))
	for _, p := range paths {
		out = append(out, t.Resolve(p))
	}
	return out
}

// ResolveEvents computes a path's final content from its events.
// It is a pure function of the events: the input slice is not
// modified and repeated calls return identical results.
//
// Events are stably sorted by order key. The base is the last full
// snapshot (a Write or non-partial Read); without one, partial
// picks a partial Read. Every event after the base is then applied
// in order: full snapshots replace the content, edits replace
// their old fragment when it is present and are otherwise counted
// as stale, and partial Reads are ignored.
func ResolveEvents(
	path string, events []parser.Event,
	policy EditPolicy, partial PartialPolicy,
) Resolution {
	res := Resolution{
		Path:   path,
		Status: StatusIncomplete,
		Events: len(events),
	}
	if partial == nil {
		partial = PickBestPartial
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b parser.Event) int {
		return a.Key.Compare(b.Key)
	})

	base := -1
	for i, ev := range sorted {
		if ev.IsFullSnapshot() {
			base = i
		}
	}
	if base < 0 {
		if i, ok := partial(sorted); ok {
			base = i
			res.BasePartial = true
		}
	}
	if base < 0 {
		for _, ev := range sorted {
			if ev.Kind == parser.KindEdit {
				res.Unresolved++
			}
		}
		return res
	}

	content := sorted[base].Content
	res.Base = sorted[base].Kind
	for _, ev := range sorted[:base] {
		if ev.Kind == parser.KindEdit {
			res.Superseded++
		}
	}
	for _, ev := range sorted[base+1:] {
		switch {
		case ev.IsFullSnapshot():
			content = ev.Content
		case ev.Kind == parser.KindEdit:
			next, ok := ApplyEdit(content, ev, policy)
			if !ok {
				res.Stale++
				continue
			}
			content = next
			res.Applied++
		}
	}

	res.Content = content
	res.Status = StatusResolved
	return res
}
