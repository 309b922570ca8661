package materialize

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/wesm/sessionrestore/internal/filestate"
	"github.com/wesm/sessionrestore/internal/parser"
)

const ruleWidth = 80

// Summary is everything the report describes.
type Summary struct {
	Inputs   []parser.FileStats
	Failed   []string // unreadable session files
	Output   string
	Root     string
	Paths    int
	Stats    filestate.Stats
	Skips    parser.SkipCounts
	Result   Result
	DryRun   bool
	EditMode string // edit policy name
}

// WriteReport renders the human-readable run report.
func WriteReport(w io.Writer, s Summary) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", ruleWidth)
	thin := strings.Repeat("-", ruleWidth)

	fmt.Fprintln(bw, "SESSION RESTORE REPORT")
	fmt.Fprintln(bw, rule)
	fmt.Fprintln(bw)

	var lines int
	var size int64
	for _, in := range s.Inputs {
		lines += in.Lines
		size += in.Size
	}
	fmt.Fprintf(bw, "Session files: %d (%s, %s lines)\n",
		len(s.Inputs), humanize.Bytes(uint64(size)),
		humanize.Comma(int64(lines)))
	for _, in := range s.Inputs {
		kind := ""
		if in.Subagent {
			kind = ", subagent"
		}
		fmt.Fprintf(bw, "  %s (%s%s)\n",
			in.Path, humanize.Bytes(uint64(in.Size)), kind)
	}
	if len(s.Failed) > 0 {
		fmt.Fprintf(bw, "Unreadable session files: %d\n", len(s.Failed))
		for _, f := range s.Failed {
			fmt.Fprintf(bw, "  ! %s\n", f)
		}
	}
	fmt.Fprintf(bw, "Root prefix: %s\n", s.Root)
	fmt.Fprintf(bw, "Output directory: %s\n", s.Output)
	if s.EditMode != "" {
		fmt.Fprintf(bw, "Edit mode: %s\n", s.EditMode)
	}
	if s.DryRun {
		fmt.Fprintln(bw, "Dry run: no files were written")
	}
	fmt.Fprintln(bw)

	fmt.Fprintf(bw, "Total unique files: %d\n", s.Paths)
	fmt.Fprintf(bw, "Successfully saved: %d\n", len(s.Result.Written))
	fmt.Fprintf(bw, "Incomplete/fragmented: %d\n",
		len(s.Result.Incomplete))
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "Extraction stats:")
	fmt.Fprintf(bw, "  Writes: %d\n", s.Stats.Writes)
	fmt.Fprintf(bw, "  Reads: %d\n", s.Stats.Reads)
	superseded := ""
	if s.Stats.Superseded > 0 {
		superseded = fmt.Sprintf(", %d superseded", s.Stats.Superseded)
	}
	fmt.Fprintf(bw, "  Edits: %d (%d applied, %d stale%s)\n",
		s.Stats.Edits, s.Stats.AppliedEdits, s.Stats.StaleEdits,
		superseded)
	fmt.Fprintf(bw, "  Partial reads: %d\n", s.Stats.PartialReads)
	if len(s.Skips) > 0 {
		fmt.Fprintln(bw, "Skipped records:")
		for _, r := range parser.SkipReasons {
			if n := s.Skips[r]; n > 0 {
				fmt.Fprintf(bw, "  %s: %d\n", r, n)
			}
		}
	}
	fmt.Fprintln(bw)

	written := append([]WrittenFile(nil), s.Result.Written...)
	sort.SliceStable(written, func(i, j int) bool {
		if written[i].Size != written[j].Size {
			return written[i].Size > written[j].Size
		}
		return written[i].Dest < written[j].Dest
	})

	fmt.Fprintln(bw, thin)
	fmt.Fprintln(bw, "ALL FILES (sorted by size)")
	fmt.Fprintln(bw, thin)
	for _, f := range written {
		fmt.Fprintf(bw, "%8s bytes  %s\n",
			humanize.Comma(int64(f.Size)),
			DisplayPath(f.Dest, s.Output))
	}

	writeByDirectory(bw, thin, written, s.Output)

	if len(s.Result.Incomplete) > 0 {
		fmt.Fprintln(bw)
		fmt.Fprintln(bw, thin)
		fmt.Fprintln(bw, "INCOMPLETE/FRAGMENTED FILES")
		fmt.Fprintln(bw, thin)
		for _, f := range s.Result.Incomplete {
			p := f.Path
			if f.Dest != "" {
				p = DisplayPath(f.Dest, s.Output)
			}
			fmt.Fprintf(bw, "  - %s (%s)\n", p, f.Reason)
		}
	}

	return bw.Flush()
}

// writeByDirectory lists written files grouped by their output
// directory, with the kind of event each was resolved from.
func writeByDirectory(
	w io.Writer, thin string, written []WrittenFile, output string,
) {
	if len(written) == 0 {
		return
	}
	byDir := make(map[string][]WrittenFile)
	var total int
	for _, f := range written {
		dir := filepath.Dir(DisplayPath(f.Dest, output))
		if dir == "." {
			dir = "root"
		}
		byDir[dir] = append(byDir[dir], f)
		total += f.Size
	}
	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	fmt.Fprintln(w)
	fmt.Fprintln(w, thin)
	fmt.Fprintln(w, "FILES BY DIRECTORY")
	fmt.Fprintln(w, thin)
	for _, d := range dirs {
		files := byDir[d]
		sort.Slice(files, func(i, j int) bool {
			return files[i].Dest < files[j].Dest
		})
		fmt.Fprintf(w, "%s/\n", d)
		for _, f := range files {
			base := string(f.Base)
			if base == "" {
				base = "unknown"
			}
			if f.Partial {
				base += ", partial"
			}
			fmt.Fprintf(w, "  - %-40s %8s bytes  (%s)\n",
				filepath.Base(f.Dest),
				humanize.Comma(int64(f.Size)), base)
		}
	}
	fmt.Fprintf(w, "Total: %d directories, %d files, %s bytes\n",
		len(dirs), len(written), humanize.Comma(int64(total)))
}

// WriteReportFile writes the report to path, creating parent
// directories as needed.
func WriteReportFile(path string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := WriteReport(f, s); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}

// DisplayPath shortens dest to its path under output when it lies
// there.
func DisplayPath(dest, output string) string {
	rel, err := filepath.Rel(output, dest)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dest
	}
	return rel
}
