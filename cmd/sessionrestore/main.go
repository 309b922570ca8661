package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wesm/sessionrestore/internal/config"
	"github.com/wesm/sessionrestore/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "restore":
			runRestore(os.Args[2:])
			return
		case "watch":
			runWatch(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "version", "--version":
			fmt.Printf("sessionrestore %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage(os.Stdout)
			return
		}
	}

	runRestore(os.Args[1:])
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `sessionrestore %s - rebuild files from Claude Code session logs

Replays the Write, Read and Edit tool calls recorded in a session log
and writes the final content of every touched file to an output tree.

Usage:
  sessionrestore [flags] <session.jsonl|dir> [output]
  sessionrestore restore [flags] ...   Restore once (default command)
  sessionrestore watch [flags] ...     Restore, then rerun as the log grows
  sessionrestore history [flags] [path...]
                                       Show runs or path events from a ledger
  sessionrestore version               Show version information
  sessionrestore help                  Show this help

Restore flags:
  -input string         Session file or directory of session files
  -output string        Output root (default current directory)
  -root string          Root prefix (default: session cwd, then current dir)
  -exclude string       Shell-quoted path substrings to skip
                        (default "extract_ restore_ .jsonl")
  -edit-mode string     flag (honor replace_all) or first (default "flag")
  -partial-mode string  longest or latest (default "longest")
  -report string        Also write the report to this file
  -ledger string        Record the run in this SQLite file; "default"
                        records to ledger.db in the data dir, the
                        ledger history reads when given no -ledger
  -dry-run              Resolve and report without writing files
  -v                    Print one line per extracted event

Watch flags:
  -debounce duration    Delay before rerunning (default 500ms)

Environment variables:
  SESSIONRESTORE_INPUT     Session file or directory
  SESSIONRESTORE_OUTPUT    Output root
  SESSIONRESTORE_ROOT      Root prefix
  SESSIONRESTORE_EXCLUDE   Shell-quoted exclusion list
  SESSIONRESTORE_DATA_DIR  Data directory (config.json, ledger.db)

Settings may also be stored in ~/.sessionrestore/config.json.
`, version)
}

func runRestore(args []string) {
	cfg := mustLoadConfig("restore", args)
	stats, err := restore(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("restore: %v", err)
	}
	if stats.LedgerRunID > 0 {
		fmt.Printf("Ledger run #%d recorded in %s\n",
			stats.LedgerRunID, cfg.LedgerPath)
	}
}

func runWatch(args []string) {
	cfg := mustLoadConfig("watch", args)
	opts, err := engineOptions(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	engine := sync.NewEngine(opts)
	if _, err := engine.Run(printRestoreProgress); err != nil {
		log.Fatalf("restore: %v", err)
	}

	watcher, err := engine.NewInputWatcher(cfg.Debounce)
	if err != nil {
		log.Fatalf("watcher: %v", err)
	}
	watcher.Start()
	fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", cfg.Input)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()
	<-ctx.Done()
	watcher.Stop()
}

// loadConfig parses args for a restore-style command. Positional
// arguments name the input and then the output root, and win over
// every other layer.
func loadConfig(
	name string, args []string, errOut io.Writer,
) (config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: sessionrestore %s [flags] <session.jsonl|dir> [output]\n\nFlags:\n",
			name)
		fs.PrintDefaults()
	}
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return cfg, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Input = fs.Arg(0)
	case 2:
		cfg.Input, cfg.Output = fs.Arg(0), fs.Arg(1)
	default:
		return cfg, fmt.Errorf(
			"too many arguments: %q", fs.Args()[2:],
		)
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoInput) {
			fs.Usage()
		}
		return cfg, err
	}
	return cfg, nil
}

func mustLoadConfig(name string, args []string) config.Config {
	cfg, err := loadConfig(name, args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	return cfg
}

func engineOptions(
	cfg config.Config, out io.Writer,
) (sync.Options, error) {
	edit, partial, err := cfg.Policies()
	if err != nil {
		return sync.Options{}, err
	}
	return sync.Options{
		Input:         cfg.Input,
		Output:        cfg.Output,
		Root:          cfg.Root,
		Exclude:       cfg.Exclude,
		EditPolicy:    edit,
		PartialPolicy: partial,
		DryRun:        cfg.DryRun,
		ReportPath:    cfg.ReportPath,
		LedgerPath:    cfg.LedgerPath,
		Verbose:       cfg.Verbose,
		Out:           out,
	}, nil
}

func restore(cfg config.Config, out io.Writer) (sync.RunStats, error) {
	opts, err := engineOptions(cfg, out)
	if err != nil {
		return sync.RunStats{}, err
	}
	return sync.NewEngine(opts).Run(printRestoreProgress)
}

func printRestoreProgress(p sync.Progress) {
	if p.Phase == sync.PhaseParsing && p.FilesTotal > 1 {
		fmt.Fprintf(os.Stderr,
			"\r  %d/%d session files (%.0f%%) · %d events",
			p.FilesDone, p.FilesTotal, p.Percent(),
			p.EventsExtracted,
		)
		if p.FilesDone == p.FilesTotal {
			fmt.Fprintln(os.Stderr)
		}
	}
}
