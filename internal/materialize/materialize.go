// Package materialize writes resolved file contents to an output
// tree and renders the run report.
package materialize

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/sessionrestore/internal/filestate"
	"github.com/wesm/sessionrestore/internal/parser"
)

// Reasons a path is listed as incomplete.
const (
	ReasonNoContent   = "no content observed"
	ReasonLineNumbers = "line-number artifact"
	ReasonWriteFailed = "write failed"
)

// WrittenFile is a path whose content reached the output tree (or
// would have, in a dry run).
type WrittenFile struct {
	Path string // recorded path
	Dest string // output path
	Size int
	Base parser.EventKind // event the content was resolved from
	// Partial is set when the base was a partial Read, so the
	// file may be missing lines.
	Partial bool
}

// IncompleteFile is a path whose output is missing or suspect.
type IncompleteFile struct {
	Path   string
	Dest   string // empty when nothing was written
	Reason string
}

// FailedFile is a path whose write failed.
type FailedFile struct {
	Path string
	Dest string
	Err  error
}

// Result summarizes a materialization.
type Result struct {
	Written    []WrittenFile
	Incomplete []IncompleteFile
	Failed     []FailedFile
	Dirs       int // directories created
}

// Materializer writes resolutions under Output. Each recorded path
// is placed at its position relative to the root prefix.
type Materializer struct {
	Filter parser.PathFilter
	Output string
	DryRun bool
}

// Destination maps a recorded path to its output path. Paths that
// fall outside the root are placed by their full path under the
// output root.
func (m *Materializer) Destination(path string) (string, error) {
	rel, ok := m.Filter.Rel(path)
	if !ok {
		rel = strings.TrimLeft(filepath.ToSlash(path), "/")
		rel = filepath.FromSlash(rel)
	}
	if rel == "" {
		return "", fmt.Errorf("empty output path for %q", path)
	}
	out := filepath.Clean(m.Output)
	dest := filepath.Join(out, rel)
	check, err := filepath.Rel(out, dest)
	if err != nil || check == ".." ||
		strings.HasPrefix(check, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf(
			"output path for %q escapes %s", path, out,
		)
	}
	return dest, nil
}

// Materialize writes every resolution with content, overwriting
// existing files. A failure on one path is logged and recorded,
// and the remaining paths are still written.
func (m *Materializer) Materialize(
	resolutions []filestate.Resolution,
) Result {
	var res Result
	created := make(map[string]bool)

	for _, r := range resolutions {
		if !r.HasContent() {
			res.Incomplete = append(res.Incomplete, IncompleteFile{
				Path:   r.Path,
				Reason: ReasonNoContent,
			})
			continue
		}

		dest, err := m.Destination(r.Path)
		if err != nil {
			res.fail(r.Path, "", err)
			continue
		}

		if !m.DryRun {
			if err := m.write(dest, r.Content, created); err != nil {
				res.fail(r.Path, dest, err)
				continue
			}
		}

		res.Written = append(res.Written, WrittenFile{
			Path: r.Path,
			Dest: dest,
			Size:    len(r.Content),
			Base:    r.Base,
			Partial: r.BasePartial,
		})
		if parser.HasLineNumberArtifact(r.Content) {
			res.Incomplete = append(res.Incomplete, IncompleteFile{
				Path:   r.Path,
				Dest:   dest,
				Reason: ReasonLineNumbers,
			})
		}
	}
	res.Dirs = len(created)
	return res
}

func (m *Materializer) write(
	dest, content string, created map[string]bool,
) error {
	dir := filepath.Dir(dest)
	if !created[dir] {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			created[dir] = true
		}
	}
	f, err := createNoFollow(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	return nil
}

func (r *Result) fail(path, dest string, err error) {
	log.Printf("restore: %v", err)
	r.Failed = append(r.Failed, FailedFile{
		Path: path, Dest: dest, Err: err,
	})
	r.Incomplete = append(r.Incomplete, IncompleteFile{
		Path:   path,
		Dest:   dest,
		Reason: ReasonWriteFailed,
	})
}
