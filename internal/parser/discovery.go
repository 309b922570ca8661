package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSessions is returned when an input directory holds no
// non-empty session files.
var ErrNoSessions = errors.New("no session files found")

// DiscoveredFile holds a discovered session file.
type DiscoveredFile struct {
	Path     string
	Size     int64
	Mtime    int64
	Subagent bool // agent-*.jsonl sidechain transcript
}

// DiscoverSessionFiles resolves the run input. A file is returned
// as is. A directory is searched recursively for non-empty .jsonl
// files, which covers a Claude project directory together with the
// <session>/subagents/agent-*.jsonl files beneath it. Files are
// ordered by modification time, then path, so source indices follow
// the order the sessions were written.
func DiscoverSessionFiles(input string) ([]DiscoveredFile, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", input, err)
	}
	if !info.IsDir() {
		return []DiscoveredFile{{
			Path:     input,
			Size:     info.Size(),
			Mtime:    info.ModTime().UnixNano(),
			Subagent: isSubagentFile(input),
		}}, nil
	}

	var files []DiscoveredFile
	err = filepath.WalkDir(input,
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip inaccessible entries
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
				return nil
			}
			fi, err := d.Info()
			if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
				return nil
			}
			files = append(files, DiscoveredFile{
				Path:     path,
				Size:     fi.Size(),
				Mtime:    fi.ModTime().UnixNano(),
				Subagent: isSubagentFile(path),
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", input, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", input, ErrNoSessions)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Mtime != files[j].Mtime {
			return files[i].Mtime < files[j].Mtime
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func isSubagentFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "agent-")
}
