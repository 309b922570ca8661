package parser

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Timestamp constants for test data.
const (
	tsEarly   = "2024-01-01T10:00:00Z"
	tsEarlyS1 = "2024-01-01T10:00:01Z"
	tsEarlyS2 = "2024-01-01T10:00:02Z"
	tsEarlyS5 = "2024-01-01T10:00:05Z"
	tsLate    = "2024-01-01T10:01:00Z"
)

var testEarlyUTC = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// testRoot is the root prefix used by extraction tests.
const testRoot = "/root/proj"

func newTestExtractor() *Extractor {
	return NewExtractor(PathFilter{
		Root:    testRoot,
		Exclude: DefaultExcludes,
	})
}

// extractAll runs lines through one extractor as source 0 and
// returns every event plus the aggregated skip counts.
func extractAll(
	t *testing.T, x *Extractor, lines ...string,
) ([]Event, SkipCounts) {
	t.Helper()
	var events []Event
	skips := make(SkipCounts)
	for i, line := range lines {
		res := x.Extract(line, Position{Line: i + 1})
		skips.Add(res)
		events = append(events, res.Events...)
	}
	return events, skips
}

func createTestFile(
	t *testing.T, name, content string,
) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(
		path, []byte(content), 0o644,
	); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return path
}

// captureLog redirects log output to a buffer for the
// duration of the test and restores it on cleanup.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(old) })
	return &buf
}

func assertLogContains(
	t *testing.T, buf *bytes.Buffer, substrs ...string,
) {
	t.Helper()
	got := buf.String()
	for _, s := range substrs {
		if !strings.Contains(got, s) {
			t.Errorf("log missing %q, got: %q", s, got)
		}
	}
}

func assertLogEmpty(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	if buf.Len() > 0 {
		t.Errorf(
			"expected no log output, got: %q",
			buf.String(),
		)
	}
}
