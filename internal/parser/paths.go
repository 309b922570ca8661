package parser

import (
	"path/filepath"
	"strings"
)

// DefaultExcludes keeps the restore tooling's own artifacts out of
// a reconstruction: helper scripts written during the session and
// session logs copied into the project.
var DefaultExcludes = []string{"extract_", "restore_", ".jsonl"}

// PathFilter decides which recorded paths are in scope.
type PathFilter struct {
	// Root is the absolute prefix a path must fall under. Empty
	// accepts every path.
	Root string
	// Exclude drops paths whose base name contains any entry.
	Exclude []string
}

// Canonicalize cleans path and makes it absolute. Relative paths
// are resolved against cwd, falling back to the filter root.
func (f PathFilter) Canonicalize(path, cwd string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		base := cwd
		if base == "" {
			base = f.Root
		}
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// Accept canonicalizes path and checks it against the root and
// exclusion rules. It returns the canonical path and an empty
// reason when the path is in scope.
func (f PathFilter) Accept(path, cwd string) (string, SkipReason) {
	p := f.Canonicalize(path, cwd)
	if p == "" {
		return "", SkipMissingField
	}
	if _, ok := f.Rel(p); !ok {
		return "", SkipOutOfRoot
	}
	base := filepath.Base(p)
	for _, ex := range f.Exclude {
		if ex != "" && strings.Contains(base, ex) {
			return "", SkipExcluded
		}
	}
	return p, ""
}

// Rel returns path relative to the root. It reports false when
// path is the root itself or lies outside it.
func (f PathFilter) Rel(path string) (string, bool) {
	if f.Root == "" {
		rel := strings.TrimLeft(filepath.ToSlash(path), "/")
		return filepath.FromSlash(rel), rel != ""
	}
	root := filepath.Clean(f.Root)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
