package parser

import (
	"cmp"
	"time"
)

// EventKind identifies what a file event did to its target.
type EventKind string

const (
	KindWrite EventKind = "write" // full content replace
	KindRead  EventKind = "read"  // content observed
	KindEdit  EventKind = "edit"  // single find-and-replace
)

// Origin records which part of a log record produced an event.
type Origin string

const (
	OriginRequest Origin = "request" // tool_use input
	OriginResult  Origin = "result"  // toolUseResult or tool_result
)

// OrderKey sequences events. Keys compare by timestamp, then by
// source file, then by line, then by position within the line.
type OrderKey struct {
	Time   time.Time
	Source int // index of the session file in the run
	Line   int // 1-based line number within the source
	Seq    int // position of the event within its record
}

// Compare returns -1, 0, or +1 as k sorts before, with, or after o.
func (k OrderKey) Compare(o OrderKey) int {
	if c := k.Time.Compare(o.Time); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Source, o.Source); c != 0 {
		return c
	}
	if c := cmp.Compare(k.Line, o.Line); c != 0 {
		return c
	}
	return cmp.Compare(k.Seq, o.Seq)
}

// Event is one observed action on a file.
type Event struct {
	Path   string // canonical absolute path
	Kind   EventKind
	Key    OrderKey
	Tool   string // raw tool name from the log
	Origin Origin

	// Write and Read.
	Content string
	Partial bool // Read only: windowed or truncated view

	// Edit.
	OldFragment string
	NewFragment string
	ReplaceAll  bool
}

// IsFullSnapshot reports whether the event carries the complete
// file content: a Write, or a Read that is not partial.
func (e Event) IsFullSnapshot() bool {
	switch e.Kind {
	case KindWrite:
		return true
	case KindRead:
		return !e.Partial
	default:
		return false
	}
}

// IsPartialRead reports whether the event is a windowed Read.
func (e Event) IsPartialRead() bool {
	return e.Kind == KindRead && e.Partial
}

// SkipReason explains why a record, or part of one, produced no
// event.
type SkipReason string

const (
	SkipOversized    SkipReason = "oversized"     // line over the size limit
	SkipDecode       SkipReason = "decode"        // not valid JSON
	SkipNoShape      SkipReason = "no_shape"      // no request or result shape
	SkipMissingField SkipReason = "missing_field" // recognized shape, bad fields
	SkipOutOfRoot    SkipReason = "out_of_root"
	SkipExcluded     SkipReason = "excluded"
)

// SkipReasons lists every reason in report order.
var SkipReasons = []SkipReason{
	SkipOversized, SkipDecode, SkipNoShape, SkipMissingField,
	SkipOutOfRoot, SkipExcluded,
}

// Extraction is the outcome of extracting one record: the events
// it encodes and the reasons any of its parts were dropped. A
// record can produce events and skips at the same time.
type Extraction struct {
	Events []Event
	Skips  []SkipReason
}

// Skipped reports whether the record contributed nothing.
func (x Extraction) Skipped() bool {
	return len(x.Events) == 0
}

// SkipCounts aggregates skip reasons for diagnostics.
type SkipCounts map[SkipReason]int

// Add records every reason in x.
func (c SkipCounts) Add(x Extraction) {
	for _, r := range x.Skips {
		c[r]++
	}
}

// Merge adds o's counts to c.
func (c SkipCounts) Merge(o SkipCounts) {
	for r, n := range o {
		c[r] += n
	}
}

// Total returns the sum over all reasons.
func (c SkipCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// FileStats describes one session file after parsing.
type FileStats struct {
	Path     string
	Size     int64
	Lines    int
	Events   int
	Skips    SkipCounts
	Subagent bool
}
