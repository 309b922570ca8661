package filestate

import (
	"fmt"
	"strings"

	"github.com/wesm/sessionrestore/internal/parser"
)

// EditPolicy selects how an Edit's replace_all flag is treated.
type EditPolicy int

const (
	// EditHonorFlag replaces one occurrence unless the edit sets
	// replace_all, in which case every occurrence is replaced.
	// This is the default.
	EditHonorFlag EditPolicy = iota
	// EditFirstOnly always replaces the first occurrence only,
	// ignoring replace_all.
	EditFirstOnly
)

// String returns the policy's command-line name.
func (p EditPolicy) String() string {
	switch p {
	case EditHonorFlag:
		return "flag"
	case EditFirstOnly:
		return "first"
	default:
		return fmt.Sprintf("EditPolicy(%d)", int(p))
	}
}

// ParseEditPolicy parses a command-line policy name. The empty
// string selects the default.
func ParseEditPolicy(s string) (EditPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flag", "honor":
		return EditHonorFlag, nil
	case "first", "first-only", "single":
		return EditFirstOnly, nil
	default:
		return 0, fmt.Errorf(
			"unknown edit mode %q (want flag or first)", s,
		)
	}
}

// ApplyEdit applies one Edit event to content. It reports false,
// leaving content unchanged, when the old fragment does not occur
// verbatim. An empty old fragment only applies to empty content,
// where it stands for creating the file.
func ApplyEdit(
	content string, ev parser.Event, policy EditPolicy,
) (string, bool) {
	if ev.OldFragment == "" {
		if content != "" {
			return content, false
		}
		return ev.NewFragment, true
	}
	if !strings.Contains(content, ev.OldFragment) {
		return content, false
	}
	n := 1
	if ev.ReplaceAll && policy == EditHonorFlag {
		n = -1
	}
	return strings.Replace(
		content, ev.OldFragment, ev.NewFragment, n,
	), true
}

// PartialPolicy picks the base event from a path's sorted events
// when no full snapshot exists. It returns the chosen index, or
// false when no event can serve as a base.
type PartialPolicy func(events []parser.Event) (int, bool)

// PickBestPartial chooses the longest partial Read: more captured
// lines approximate the file better than fewer. Ties go to the
// earliest event.
func PickBestPartial(events []parser.Event) (int, bool) {
	best, bestLen := -1, -1
	for i, ev := range events {
		if !ev.IsPartialRead() {
			continue
		}
		if len(ev.Content) > bestLen {
			best, bestLen = i, len(ev.Content)
		}
	}
	return best, best >= 0
}

// PickLatestPartial chooses the most recent partial Read. It
// matches the earliest single-session restore behaviour and is
// kept for comparison.
func PickLatestPartial(events []parser.Event) (int, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IsPartialRead() {
			return i, true
		}
	}
	return -1, false
}

// ParsePartialPolicy parses a command-line partial policy name.
// The empty string selects PickBestPartial.
func ParsePartialPolicy(s string) (PartialPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "longest":
		return PickBestPartial, nil
	case "latest":
		return PickLatestPartial, nil
	default:
		return nil, fmt.Errorf(
			"unknown partial mode %q (want longest or latest)", s,
		)
	}
}
