package parser

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ParseSessionFile streams a session JSONL file through x and
// calls emit for every extracted event, in log order. source is
// the file's index in the run and becomes part of each event's
// order key. Malformed and oversized lines are skipped and
// counted; only failures to open or read the file are returned.
func ParseSessionFile(
	path string, source int, x *Extractor, emit func(Event),
) (FileStats, error) {
	return parseSession(path, source, x, emit, maxLineSize)
}

func parseSession(
	path string, source int, x *Extractor, emit func(Event),
	limit int,
) (FileStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileStats{}, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return FileStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stats := FileStats{
		Path:  path,
		Size:  info.Size(),
		Skips: make(SkipCounts),
	}

	// Records ahead of the file's first timestamp take that
	// timestamp rather than sorting before every other file.
	x.SeedTime(source, firstTimestamp(path, limit))

	lr := newLineReader(f, limit)
	for {
		line, num, ok := lr.next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		res := x.Extract(line, Position{Source: source, Line: num})
		stats.Skips.Add(res)
		for _, ev := range res.Events {
			stats.Events++
			emit(ev)
		}
	}
	stats.Lines = lr.Lines()
	if n := lr.Oversized(); n > 0 {
		stats.Skips[SkipOversized] += n
	}

	if err := lr.Err(); err != nil {
		return stats, fmt.Errorf("reading %s: %w", path, err)
	}
	return stats, nil
}

// firstTimestamp returns the first parseable record timestamp in
// a session file, or the zero time when there is none.
func firstTimestamp(path string, limit int) time.Time {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	lr := newLineReader(f, limit)
	for {
		line, _, ok := lr.next()
		if !ok {
			return time.Time{}
		}
		if !gjson.Valid(line) {
			continue
		}
		s := gjson.Get(line, "timestamp").Str
		if s == "" {
			continue
		}
		if t, ok := matchTimestamp(s); ok {
			return t
		}
	}
}

// ExtractCwdFromSession returns the first cwd recorded in a
// session file, or "" when none is found. The session's working
// directory is the natural root prefix for a restore.
func ExtractCwdFromSession(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	lr := newLineReader(f, maxLineSize)
	for {
		line, _, ok := lr.next()
		if !ok {
			return ""
		}
		if !gjson.Valid(line) {
			continue
		}
		if cwd := gjson.Get(line, "cwd").Str; cwd != "" {
			return cwd
		}
	}
}
