// Package ledger records restore runs in a SQLite database: every
// extracted event and the resolution of every path, so a
// reconstruction can be inspected after the fact.
package ledger

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wesm/sessionrestore/internal/filestate"
	"github.com/wesm/sessionrestore/internal/parser"
)

//go:embed schema.sql
var schemaSQL string

// Ledger manages a write connection and a read-only pool.
type Ledger struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens a ledger database at the given path.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	l := &Ledger{writer: writer, reader: reader}
	if err := l.init(); err != nil {
		l.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Exec(schemaSQL); err != nil {
		return err
	}
	// Ledgers written before events carried a numeric sort key.
	return l.ensureColumn(
		"events", "ts_nano", "INTEGER NOT NULL DEFAULT 0",
	)
}

// ensureColumn adds a column if it doesn't already exist.
func (l *Ledger) ensureColumn(table, column, definition string) error {
	var count int
	err := l.writer.QueryRow(fmt.Sprintf(
		"SELECT count(*) FROM pragma_table_info('%s') WHERE name='%s'",
		table, column,
	)).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = l.writer.Exec(fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s %s", table, column, definition,
	))
	return err
}

// Close closes both writer and reader connections.
func (l *Ledger) Close() error {
	return errors.Join(l.writer.Close(), l.reader.Close())
}

// update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (l *Ledger) update(fn func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.writer.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Run is everything recorded about one restore.
type Run struct {
	StartedAt   time.Time
	Inputs      []string
	Output      string
	Root        string
	EditMode    string
	DryRun      bool
	Events      []parser.Event
	Resolutions []filestate.Resolution
	Skips       parser.SkipCounts
}

// RunRecord is a stored run.
type RunRecord struct {
	ID         int64
	StartedAt  string
	Inputs     []string
	Output     string
	Root       string
	EditMode   string
	DryRun     bool
	EventCount int
	FileCount  int
	SkipCount  int
}

// FileRecord is a path's resolution within a run.
type FileRecord struct {
	RunID      int64
	Path       string
	Status     string
	Base       string
	Size       int
	Events     int
	Applied    int
	Stale      int
	Unresolved int
}

// EventRecord is one stored event.
type EventRecord struct {
	RunID       int64
	Path        string
	Kind        string
	Tool        string
	Origin      string
	Timestamp   string
	Source      int
	Line        int
	Seq         int
	Content     string
	Partial     bool
	OldFragment string
	NewFragment string
	ReplaceAll  bool
}

// RecordRun stores a run, its events, its resolutions, and its
// skip counts in one transaction and returns the run id.
func (l *Ledger) RecordRun(run Run) (int64, error) {
	var runID int64
	err := l.update(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO runs (started_at, inputs, output_dir,
				root, edit_mode, dry_run,
				event_count, file_count, skip_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			formatTime(run.StartedAt),
			strings.Join(run.Inputs, "\n"),
			run.Output, run.Root, run.EditMode,
			boolInt(run.DryRun),
			len(run.Events), len(run.Resolutions),
			run.Skips.Total(),
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}
		runID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("run id: %w", err)
		}

		if err := insertEvents(tx, runID, run.Events); err != nil {
			return err
		}
		if err := insertFiles(tx, runID, run.Resolutions); err != nil {
			return err
		}
		return insertSkips(tx, runID, run.Skips)
	})
	if err != nil {
		return 0, err
	}
	return runID, nil
}

func insertEvents(tx *sql.Tx, runID int64, events []parser.Event) error {
	stmt, err := tx.Prepare(`
		INSERT INTO events (run_id, path, kind, tool, origin,
			timestamp, ts_nano, source, line, seq, content, partial,
			old_fragment, new_fragment, replace_all)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var content, oldStr, newStr sql.NullString
		if ev.Kind == parser.KindEdit {
			oldStr = sql.NullString{String: ev.OldFragment, Valid: true}
			newStr = sql.NullString{String: ev.NewFragment, Valid: true}
		} else {
			content = sql.NullString{String: ev.Content, Valid: true}
		}
		if _, err := stmt.Exec(
			runID, ev.Path, string(ev.Kind), ev.Tool,
			string(ev.Origin), formatTime(ev.Key.Time),
			timeKey(ev.Key.Time), ev.Key.Source, ev.Key.Line, ev.Key.Seq,
			content, boolInt(ev.Partial),
			oldStr, newStr, boolInt(ev.ReplaceAll),
		); err != nil {
			return fmt.Errorf("inserting event for %s: %w", ev.Path, err)
		}
	}
	return nil
}

func insertFiles(
	tx *sql.Tx, runID int64, resolutions []filestate.Resolution,
) error {
	stmt, err := tx.Prepare(`
		INSERT INTO files (run_id, path, status, base, size,
			event_count, applied, stale, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer stmt.Close()

	for _, r := range resolutions {
		if _, err := stmt.Exec(
			runID, r.Path, string(r.Status), string(r.Base),
			len(r.Content), r.Events, r.Applied, r.Stale,
			r.Unresolved,
		); err != nil {
			return fmt.Errorf("inserting file %s: %w", r.Path, err)
		}
	}
	return nil
}

func insertSkips(tx *sql.Tx, runID int64, skips parser.SkipCounts) error {
	for _, reason := range parser.SkipReasons {
		n := skips[reason]
		if n == 0 {
			continue
		}
		if _, err := tx.Exec(
			"INSERT INTO skips (run_id, reason, count) VALUES (?, ?, ?)",
			runID, string(reason), n,
		); err != nil {
			return fmt.Errorf("inserting skip %s: %w", reason, err)
		}
	}
	return nil
}

// Runs returns every stored run, oldest first.
func (l *Ledger) Runs() ([]RunRecord, error) {
	rows, err := l.reader.Query(`
		SELECT id, started_at, inputs, output_dir, root,
			edit_mode, dry_run, event_count, file_count, skip_count
		FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var inputs string
		var dryRun int
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &inputs, &r.Output, &r.Root,
			&r.EditMode, &dryRun, &r.EventCount, &r.FileCount,
			&r.SkipCount,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if inputs != "" {
			r.Inputs = strings.Split(inputs, "\n")
		}
		r.DryRun = dryRun != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Files returns the resolutions stored for a run, ordered by path.
func (l *Ledger) Files(runID int64) ([]FileRecord, error) {
	rows, err := l.reader.Query(`
		SELECT run_id, path, status, base, size, event_count,
			applied, stale, unresolved
		FROM files WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(
			&f.RunID, &f.Path, &f.Status, &f.Base, &f.Size,
			&f.Events, &f.Applied, &f.Stale, &f.Unresolved,
		); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileHistory returns every stored event for path across all runs,
// in run order and then event order within each run.
func (l *Ledger) FileHistory(path string) ([]EventRecord, error) {
	rows, err := l.reader.Query(`
		SELECT run_id, path, kind, tool, origin, timestamp,
			source, line, seq, content, partial,
			old_fragment, new_fragment, replace_all
		FROM events WHERE path = ?
		ORDER BY run_id, ts_nano, source, line, seq`, path)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var content, oldStr, newStr sql.NullString
		var partial, replaceAll int
		if err := rows.Scan(
			&e.RunID, &e.Path, &e.Kind, &e.Tool, &e.Origin,
			&e.Timestamp, &e.Source, &e.Line, &e.Seq,
			&content, &partial, &oldStr, &newStr, &replaceAll,
		); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Content = content.String
		e.OldFragment = oldStr.String
		e.NewFragment = newStr.String
		e.Partial = partial != 0
		e.ReplaceAll = replaceAll != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

// SkipCounts returns the skip counts stored for a run.
func (l *Ledger) SkipCounts(runID int64) (parser.SkipCounts, error) {
	rows, err := l.reader.Query(
		"SELECT reason, count FROM skips WHERE run_id = ?", runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying skips: %w", err)
	}
	defer rows.Close()

	counts := make(parser.SkipCounts)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scanning skip: %w", err)
		}
		counts[parser.SkipReason(reason)] = n
	}
	return counts, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timeKey is the sortable form of an event time. The zero time maps
// to the smallest key so untimed events sort first, as they do in
// memory.
func timeKey(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
