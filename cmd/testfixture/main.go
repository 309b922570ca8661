package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/wesm/sessionrestore/internal/testjsonl"
)

type sessionSpec struct {
	project      string
	suffix       string
	fileCount    int
	editsPerFile int
}

var specs = []sessionSpec{
	{"project-alpha", "small-1", 1, 1},
	{"project-alpha", "small-3", 3, 2},
	{"project-beta", "mixed-content", 0, 0},
	{"project-beta", "medium-20", 20, 5},
	{"project-gamma", "large-200", 200, 10},
}

func main() {
	out := flag.String("out", "", "output directory for session logs")
	flag.Parse()
	if *out == "" {
		fmt.Fprintln(os.Stderr, "usage: testfixture -out <dir>")
		os.Exit(1)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("creating output dir: %v", err)
	}

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	for i, spec := range specs {
		path, lines, err := writeSessionFixture(*out, spec, i, base)
		if err != nil {
			log.Fatalf("creating fixture %s: %v", spec.suffix, err)
		}
		fmt.Printf("  %s: %d records\n", path, lines)
	}

	fmt.Printf("Fixture sessions written to %s\n", *out)
}

// fixtureRoot is the cwd recorded by a fixture session.
func fixtureRoot(project string) string {
	return "/fixture/" + project
}

// fixtureContent is what a generated file holds after edit
// revisions have been applied.
func fixtureContent(file, revision int) string {
	return fmt.Sprintf(
		"package p%d\n\nconst Revision = %d\n", file, revision,
	)
}

func writeSessionFixture(
	dir string, spec sessionSpec, index int, base time.Time,
) (string, int, error) {
	start := base.Add(time.Duration(index) * 24 * time.Hour)
	var content string
	var lines int
	if spec.suffix == "mixed-content" {
		content, lines = mixedContentSession(spec.project, start)
	} else {
		content, lines = generateSession(spec, start)
	}

	path := filepath.Join(
		dir, spec.project, "session-"+spec.suffix+".jsonl",
	)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating project dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", 0, fmt.Errorf("writing session: %w", err)
	}
	return path, lines, nil
}

func generateSession(spec sessionSpec, start time.Time) (string, int) {
	root := fixtureRoot(spec.project)
	b := testjsonl.NewSessionBuilder()
	b.AddUser("Generate the fixture files", stamp(start, 0), root)
	lines := 1
	step := 1

	for f := range spec.fileCount {
		path := fmt.Sprintf("%s/pkg%d/p%d.go", root, f%10, f)
		b.AddWrite(
			fmt.Sprintf("w%d", f), path,
			fixtureContent(f, 0), stamp(start, step),
		)
		lines++
		step++
		for e := range spec.editsPerFile {
			b.AddEdit(
				fmt.Sprintf("e%d-%d", f, e), path,
				fmt.Sprintf("Revision = %d\n", e),
				fmt.Sprintf("Revision = %d\n", e+1),
				false, stamp(start, step),
			)
			lines++
			step++
		}
	}
	return b.String(), lines
}

// mixedContentSession covers every record shape a restore handles,
// plus lines it must skip.
func mixedContentSession(project string, start time.Time) (string, int) {
	root := fixtureRoot(project)
	prog := root + "/cmd/main.go"
	readme := root + "/README.md"
	notes := root + "/notes.txt"
	original := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"
	lines := []string{
		testjsonl.ClaudeUserJSON("Fix the program", stamp(start, 0), root),
		testjsonl.ClaudeReadJSON("r1", prog, 0, 0, stamp(start, 1)),
		testjsonl.ClaudeReadResultJSON(
			"r1", prog, original, 1, 5, 5, stamp(start, 2),
		),
		testjsonl.ClaudeMultiEditJSON("m1", prog, []testjsonl.EditSpec{
			{Old: "\"hi\"", New: "\"hello\""},
			{Old: "println", New: "print", ReplaceAll: true},
		}, stamp(start, 3)),
		testjsonl.ClaudeEditJSON(
			"e1", readme, "v1", "v2", false, stamp(start, 4),
		),
		testjsonl.ClaudeEditResultJSON(
			"e1", readme, "# Fixture v1\n", "v1", "v2", false,
			stamp(start, 5),
		),
		testjsonl.ClaudeReadJSON("r2", notes, 10, 2, stamp(start, 6)),
		testjsonl.ClaudeToolResultTextJSON(
			"r2", testjsonl.CatN("line ten\nline eleven", 10),
			stamp(start, 7),
		),
		testjsonl.ClaudeWriteJSON(
			"w1", "/elsewhere/outside.txt", "out of root",
			stamp(start, 8),
		),
		testjsonl.ClaudeWriteJSON(
			"w2", root+"/restore_helper.py", "excluded", stamp(start, 9),
		),
		`{"type":"assistant","message":`,
	}
	return testjsonl.JoinJSONL(lines...), len(lines)
}

func stamp(start time.Time, step int) string {
	return start.Add(time.Duration(step) * time.Second).
		Format(time.RFC3339)
}
