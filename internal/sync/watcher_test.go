package sync

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// isSessionLog is the matcher a directory input uses.
func isSessionLog(path string) bool {
	return strings.HasSuffix(path, ".jsonl")
}

// startTestWatcherNoCleanup watches a fresh session directory
// without registering t.Cleanup(w.Stop), for tests that exercise
// Stop() themselves.
func startTestWatcherNoCleanup(
	t *testing.T, onChange func([]string),
) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWatcher(50*time.Millisecond, isSessionLog, onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if _, err := w.WatchInput(dir); err != nil {
		t.Fatalf("WatchInput: %v", err)
	}
	w.Start()
	return w, dir
}

// startTestWatcher encapsulates watcher setup and lifecycle.
func startTestWatcher(
	t *testing.T, onChange func([]string),
) (*Watcher, string) {
	t.Helper()
	w, dir := startTestWatcherNoCleanup(t, onChange)
	t.Cleanup(func() { w.Stop() })
	return w, dir
}

// waitWithTimeout fails the test when ch is not closed in time.
func waitWithTimeout(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal(msg)
	}
}

// pollUntil polls fn with the given interval until it returns true
// or the timeout expires.
func pollUntil(
	t *testing.T,
	timeout, interval time.Duration,
	msg string,
	fn func() bool,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(interval)
	}
	if fn() {
		return
	}
	t.Fatal(msg)
}

// newMockWatcher creates a Watcher struct for internal unit tests.
// It has no fsnotify watcher, so only handleEvent on files and
// flush may be called.
func newMockWatcher(
	debounce time.Duration, onChange func([]string),
) *Watcher {
	return &Watcher{
		debounce: debounce,
		pending:  make(map[string]time.Time),
		onChange: onChange,
		match:    isSessionLog,
		now:      time.Now,
	}
}

func setPending(w *Watcher, path string, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = t
}

func getPendingCount(w *Watcher) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func pendingContains(w *Watcher, path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[path]
	return ok
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		t.Fatalf("append: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWatcherReportsSessionAppend(t *testing.T) {
	var mu sync.Mutex
	var gotPaths []string
	done := make(chan struct{})
	var once sync.Once

	_, dir := startTestWatcher(t, func(paths []string) {
		mu.Lock()
		gotPaths = append(gotPaths, paths...)
		mu.Unlock()
		once.Do(func() { close(done) })
	})

	// A restored output file landing in the watched tree is ignored.
	other := filepath.Join(dir, "restored.go")
	if err := os.WriteFile(other, []byte("package x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	session := filepath.Join(dir, "session.jsonl")
	appendLine(t, session, `{"type":"user"}`)

	waitWithTimeout(t, done, 5*time.Second, "timed out waiting for onChange callback")

	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(gotPaths, session) {
		t.Fatalf("onChange did not contain %s, got %v", session, gotPaths)
	}
	if slices.Contains(gotPaths, other) {
		t.Fatalf("onChange reported non-session file %s", other)
	}
}

func TestWatcherAutoWatchesNewSubagentDirs(t *testing.T) {
	var mu sync.Mutex
	var allPaths []string

	w, dir := startTestWatcher(t, func(paths []string) {
		mu.Lock()
		allPaths = append(allPaths, paths...)
		mu.Unlock()
	})

	subdir := filepath.Join(dir, "subagents")
	if err := os.Mkdir(subdir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	pollUntil(t, 5*time.Second, 10*time.Millisecond,
		"timed out waiting for watcher to add new directory",
		func() bool {
			return slices.Contains(w.watcher.WatchList(), subdir)
		},
	)

	nested := filepath.Join(subdir, "agent-1.jsonl")
	appendLine(t, nested, `{"type":"assistant"}`)

	pollUntil(t, 5*time.Second, 50*time.Millisecond,
		"timed out waiting for subagent session change",
		func() bool {
			mu.Lock()
			defer mu.Unlock()
			return slices.Contains(allPaths, nested)
		},
	)
}

func TestWatcherStopIsClean(t *testing.T) {
	w, _ := startTestWatcherNoCleanup(t, func(_ []string) {})

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	waitWithTimeout(t, stopped, 5*time.Second, "Stop() did not return in time")
}

func TestWatcherStopIdempotency(t *testing.T) {
	w, _ := startTestWatcherNoCleanup(t, func(_ []string) {})

	w.Stop()
	w.Stop()

	w2, dir2 := startTestWatcherNoCleanup(
		t, func(_ []string) {},
	)

	// Give the loop a pending session change so Stop races real work.
	appendLine(t, filepath.Join(dir2, "stress.jsonl"), "{}")
	pollUntil(t, 5*time.Second, 5*time.Millisecond,
		"timed out waiting for watcher to observe session write",
		func() bool { return getPendingCount(w2) > 0 },
	)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			w2.Stop()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	waitWithTimeout(t, done, 5*time.Second, "concurrent Stop() timed out")
}

func TestHandleEventIgnoresNonWriteCreate(t *testing.T) {
	w := newMockWatcher(0, nil)

	for _, op := range []fsnotify.Op{
		fsnotify.Chmod, fsnotify.Rename, fsnotify.Remove,
	} {
		w.handleEvent(fsnotify.Event{Name: "/logs/s.jsonl", Op: op})
	}

	if n := getPendingCount(w); n != 0 {
		t.Fatalf("expected 0 pending, got %d", n)
	}
}

func TestHandleEventRecordsPendingOnWrite(t *testing.T) {
	w := newMockWatcher(0, nil)
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	w.handleEvent(fsnotify.Event{
		Name: "/logs/session.jsonl", Op: fsnotify.Write,
	})

	w.mu.Lock()
	got, ok := w.pending["/logs/session.jsonl"]
	w.mu.Unlock()
	if !ok {
		t.Fatal("expected session.jsonl in pending map")
	}
	if !got.Equal(at) {
		t.Fatalf("pending time = %v, want %v", got, at)
	}
}

func TestFlushRespectsDebouncePeriod(t *testing.T) {
	var called atomic.Bool
	w := newMockWatcher(100*time.Millisecond,
		func(_ []string) { called.Store(true) },
	)
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	setPending(w, "/logs/recent.jsonl", at)

	w.now = func() time.Time { return at.Add(50 * time.Millisecond) }
	w.flush()
	if called.Load() {
		t.Fatal("flush should not call onChange before debounce")
	}
	if n := getPendingCount(w); n != 1 {
		t.Fatalf("expected 1 pending, got %d", n)
	}

	w.now = func() time.Time { return at.Add(100 * time.Millisecond) }
	w.flush()
	if !called.Load() {
		t.Fatal("flush should call onChange once debounce elapsed")
	}
}

func TestFlushCallsOnChangeAfterDebounce(t *testing.T) {
	var gotPaths []string
	w := newMockWatcher(10*time.Millisecond,
		func(paths []string) { gotPaths = paths },
	)

	setPending(w, "/logs/old.jsonl", time.Now().Add(-50*time.Millisecond))

	w.flush()

	if len(gotPaths) != 1 || gotPaths[0] != "/logs/old.jsonl" {
		t.Fatalf("expected [/logs/old.jsonl], got %v", gotPaths)
	}
	if n := getPendingCount(w); n != 0 {
		t.Fatalf("expected 0 pending after flush, got %d", n)
	}
}

func TestFlushNoopWhenEmpty(t *testing.T) {
	var called atomic.Bool
	w := newMockWatcher(10*time.Millisecond,
		func(_ []string) { called.Store(true) },
	)

	w.flush()

	if called.Load() {
		t.Fatal("flush should not call onChange when pending is empty")
	}
}

func TestNewWatcher_NilOnChange(t *testing.T) {
	_, err := NewWatcher(time.Second, nil, nil)
	if err == nil {
		t.Fatal("NewWatcher(nil) should return error")
	}

	if !errors.Is(err, os.ErrInvalid) {
		t.Errorf("expected wrapped os.ErrInvalid, got %v", err)
	}

	expectedMsg := "onChange callback is nil"
	if err.Error() != expectedMsg+": "+os.ErrInvalid.Error() {
		t.Errorf("expected error message to contain %q, got %q", expectedMsg, err.Error())
	}
}

func TestHandleEventAppliesMatch(t *testing.T) {
	w := newMockWatcher(0, nil)
	w.match = func(path string) bool {
		return filepath.Ext(path) == ".jsonl"
	}

	w.handleEvent(fsnotify.Event{
		Name: "/out/restored.go", Op: fsnotify.Write,
	})
	w.handleEvent(fsnotify.Event{
		Name: "/logs/session.jsonl", Op: fsnotify.Write,
	})

	if n := getPendingCount(w); n != 1 {
		t.Fatalf("expected 1 pending, got %d", n)
	}
	if !pendingContains(w, "/logs/session.jsonl") {
		t.Fatal("expected session.jsonl in pending map")
	}
}

func TestFlushSortsReadyPaths(t *testing.T) {
	var gotPaths []string
	w := newMockWatcher(10*time.Millisecond,
		func(paths []string) { gotPaths = paths },
	)
	old := time.Now().Add(-time.Second)
	setPending(w, "/tmp/c", old)
	setPending(w, "/tmp/a", old)
	setPending(w, "/tmp/b", old)

	w.flush()

	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !slices.Equal(gotPaths, want) {
		t.Fatalf("got %v, want %v", gotPaths, want)
	}
}

func TestWatchInputSingleFile(t *testing.T) {
	dir := t.TempDir()
	session := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(session, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	done := make(chan struct{})
	var once sync.Once
	var got []string
	w, err := NewWatcher(50*time.Millisecond,
		func(path string) bool { return path == session },
		func(paths []string) {
			got = paths
			once.Do(func() { close(done) })
		},
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	n, err := w.WatchInput(session)
	if err != nil {
		t.Fatalf("WatchInput: %v", err)
	}
	if n != 1 {
		t.Fatalf("watched %d dirs, want 1", n)
	}
	w.Start()
	t.Cleanup(w.Stop)

	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f, err := os.OpenFile(session, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("{}\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	waitWithTimeout(t, done, 5*time.Second, "timed out waiting for session change")
	if !slices.Equal(got, []string{session}) {
		t.Fatalf("got %v, want [%s]", got, session)
	}
}

func TestWatchInputMissing(t *testing.T) {
	w, err := NewWatcher(time.Second, nil, func([]string) {})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	_, err = w.WatchInput(filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
