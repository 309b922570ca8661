package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/wesm/sessionrestore/internal/config"
	"github.com/wesm/sessionrestore/internal/ledger"
)

// HistoryConfig holds parsed CLI options for the history command.
type HistoryConfig struct {
	LedgerPath string
	RunID      int64 // list this run's files; 0 lists runs
	Paths      []string
}

func parseHistoryFlags(args []string) (HistoryConfig, error) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	ledgerPath := fs.String(
		"ledger", "",
		"Ledger `file` to read (default ledger.db in the data dir,\nwhere restore -ledger default records)",
	)
	runID := fs.Int64(
		"run", 0,
		"List the files resolved by this run",
	)
	if err := fs.Parse(args); err != nil {
		return HistoryConfig{}, err
	}
	if *runID < 0 {
		return HistoryConfig{}, fmt.Errorf("run must be > 0")
	}
	if *runID > 0 && fs.NArg() > 0 {
		return HistoryConfig{}, fmt.Errorf(
			"-run and paths are mutually exclusive",
		)
	}
	return HistoryConfig{
		LedgerPath: *ledgerPath,
		RunID:      *runID,
		Paths:      fs.Args(),
	}, nil
}

// History prints what a ledger recorded.
type History struct {
	Ledger *ledger.Ledger
	Out    io.Writer
}

// Show prints the run list, one run's files, or the event history
// of each requested path.
func (h *History) Show(cfg HistoryConfig) error {
	switch {
	case cfg.RunID > 0:
		return h.showRun(cfg.RunID)
	case len(cfg.Paths) > 0:
		for i, p := range cfg.Paths {
			if i > 0 {
				fmt.Fprintln(h.Out)
			}
			if err := h.showPath(p); err != nil {
				return err
			}
		}
		return nil
	default:
		return h.showRuns()
	}
}

func (h *History) showRuns() error {
	runs, err := h.Ledger.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(h.Out, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		dry := ""
		if r.DryRun {
			dry = " (dry run)"
		}
		fmt.Fprintf(h.Out,
			"#%-4d %s  %s events, %s files, %s skipped  -> %s%s\n",
			r.ID, r.StartedAt,
			humanize.Comma(int64(r.EventCount)),
			humanize.Comma(int64(r.FileCount)),
			humanize.Comma(int64(r.SkipCount)),
			r.Output, dry,
		)
	}
	return nil
}

func (h *History) showRun(runID int64) error {
	files, err := h.Ledger.Files(runID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("run #%d not found", runID)
	}
	skips, err := h.Ledger.SkipCounts(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(h.Out, "Run #%d: %d files\n", runID, len(files))
	for _, f := range files {
		base := f.Base
		if base == "" {
			base = "-"
		}
		fmt.Fprintf(h.Out, "  %-10s %-6s %10s  %s\n",
			f.Status, base, humanize.Bytes(uint64(f.Size)), f.Path)
		if f.Stale > 0 || f.Unresolved > 0 {
			fmt.Fprintf(h.Out,
				"             %d stale edits, %d unresolved events\n",
				f.Stale, f.Unresolved)
		}
	}
	if total := skips.Total(); total > 0 {
		fmt.Fprintf(h.Out, "Skipped lines: %s\n", humanize.Comma(int64(total)))
	}
	return nil
}

func (h *History) showPath(path string) error {
	events, err := h.Ledger.FileHistory(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(h.Out, "%s: %d events\n", path, len(events))
	for _, e := range events {
		ts := e.Timestamp
		if ts == "" {
			ts = "-"
		}
		fmt.Fprintf(h.Out, "  #%-4d %-24s %-5s %-10s %s\n",
			e.RunID, ts, e.Kind, e.Tool, eventDetail(e))
	}
	return nil
}

func eventDetail(e ledger.EventRecord) string {
	if e.Kind == "edit" {
		all := ""
		if e.ReplaceAll {
			all = ", all"
		}
		return fmt.Sprintf("-%s +%s%s",
			humanize.Bytes(uint64(len(e.OldFragment))),
			humanize.Bytes(uint64(len(e.NewFragment))), all)
	}
	detail := humanize.Bytes(uint64(len(e.Content)))
	if e.Partial {
		detail += ", partial"
	}
	if e.Origin != "" {
		detail += " (" + e.Origin + ")"
	}
	return detail
}

func runHistory(args []string) {
	cfg, err := parseHistoryFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	appCfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if cfg.LedgerPath != "" {
		appCfg.LedgerPath = cfg.LedgerPath
	}
	path := appCfg.HistoryLedger()
	if _, err := os.Stat(path); err != nil {
		log.Fatalf("opening ledger: %v", err)
	}

	l, err := ledger.Open(path)
	if err != nil {
		log.Fatalf("opening ledger: %v", err)
	}
	defer l.Close()

	h := &History{Ledger: l, Out: os.Stdout}
	if err := h.Show(cfg); err != nil {
		log.Fatalf("history: %v", err)
	}
}
