package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/wesm/sessionrestore/internal/filestate"
	"github.com/wesm/sessionrestore/internal/parser"
)

// ErrNoInput is returned by Validate when no session input is set.
var ErrNoInput = errors.New("no session input given")

// DefaultLedger is the ledger setting that names ledger.db in the
// data directory, the ledger history reads when given none.
const DefaultLedger = "default"

// Config holds all application configuration.
type Config struct {
	Input       string        `json:"input"`
	Output      string        `json:"output"`
	Root        string        `json:"root"`
	Exclude     []string      `json:"exclude"`
	ReportPath  string        `json:"report"`
	LedgerPath  string        `json:"ledger"`
	EditMode    string        `json:"edit_mode"`
	PartialMode string        `json:"partial_mode"`
	Debounce    time.Duration `json:"-"`
	DryRun      bool          `json:"-"`
	Verbose     bool          `json:"-"`
	DataDir     string        `json:"-"`
}

// Default returns a Config with default values. The root prefix is
// left empty so a restore can take it from the session itself.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	wd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining working directory: %w", err,
		)
	}
	return Config{
		Output:      wd,
		Exclude:     append([]string(nil), parser.DefaultExcludes...),
		EditMode:    filestate.EditHonorFlag.String(),
		PartialMode: "longest",
		Debounce:    500 * time.Millisecond,
		DataDir:     filepath.Join(home, ".sessionrestore"),
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	cfg.expandLedger()
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file, and env,
// without parsing CLI flags.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("SESSIONRESTORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	cfg.expandLedger()
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Input       string   `json:"input"`
		Output      string   `json:"output"`
		Root        string   `json:"root"`
		Exclude     []string `json:"exclude"`
		ReportPath  string   `json:"report"`
		LedgerPath  string   `json:"ledger"`
		EditMode    string   `json:"edit_mode"`
		PartialMode string   `json:"partial_mode"`
		Debounce    string   `json:"debounce"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	setIf(&c.Input, file.Input)
	setIf(&c.Output, file.Output)
	setIf(&c.Root, file.Root)
	setIf(&c.ReportPath, file.ReportPath)
	setIf(&c.LedgerPath, file.LedgerPath)
	setIf(&c.EditMode, file.EditMode)
	setIf(&c.PartialMode, file.PartialMode)
	// An explicit empty array turns the default exclusions off.
	if file.Exclude != nil {
		c.Exclude = file.Exclude
	}
	if file.Debounce != "" {
		d, err := time.ParseDuration(file.Debounce)
		if err != nil {
			return fmt.Errorf("parsing debounce: %w", err)
		}
		c.Debounce = d
	}
	return nil
}

func (c *Config) loadEnv() error {
	setIf(&c.Input, os.Getenv("SESSIONRESTORE_INPUT"))
	setIf(&c.Output, os.Getenv("SESSIONRESTORE_OUTPUT"))
	setIf(&c.Root, os.Getenv("SESSIONRESTORE_ROOT"))
	if v, ok := os.LookupEnv("SESSIONRESTORE_EXCLUDE"); ok {
		list, err := splitList(v)
		if err != nil {
			return fmt.Errorf("SESSIONRESTORE_EXCLUDE: %w", err)
		}
		c.Exclude = list
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// splitList splits a shell-quoted list. An empty string yields an
// empty, non-nil list.
func splitList(s string) ([]string, error) {
	list, err := shlex.Split(s)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// RegisterFlags registers restore flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterFlags(fs *flag.FlagSet) {
	fs.String("input", "", "Session `file` or directory of session files")
	fs.String("output", "", "Output root (default current directory)")
	fs.String("root", "", "Root prefix recorded paths must fall under\n(default: session cwd, then current directory)")
	fs.String("exclude", "", "Shell-quoted list of path substrings to skip")
	fs.String("report", "", "Also write the report to this `file`")
	fs.String("ledger", "", "Record the run in this SQLite `file`\n(\"default\": ledger.db in the data dir)")
	fs.String("edit-mode", "flag", "Edit replacement: flag (honor replace_all) or first")
	fs.String("partial-mode", "longest", "Partial read fallback: longest or latest")
	fs.Bool("dry-run", false, "Resolve and report without writing files")
	fs.Bool("v", false, "Print one line per extracted event")
	fs.Duration("debounce", 500*time.Millisecond, "Watch mode: delay before rerunning")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "input":
			cfg.Input = v
		case "output":
			cfg.Output = v
		case "root":
			cfg.Root = v
		case "exclude":
			list, splitErr := splitList(v)
			if splitErr != nil {
				err = fmt.Errorf("-exclude: %w", splitErr)
				return
			}
			cfg.Exclude = list
		case "report":
			cfg.ReportPath = v
		case "ledger":
			cfg.LedgerPath = v
		case "edit-mode":
			cfg.EditMode = v
		case "partial-mode":
			cfg.PartialMode = v
		case "dry-run":
			cfg.DryRun = v == "true"
		case "v":
			cfg.Verbose = v == "true"
		case "debounce":
			// flag already validated the duration
			cfg.Debounce, _ = time.ParseDuration(v)
		}
	})
	return err
}

// Policies parses the configured edit and partial-read modes.
func (c *Config) Policies() (
	filestate.EditPolicy, filestate.PartialPolicy, error,
) {
	edit, err := filestate.ParseEditPolicy(c.EditMode)
	if err != nil {
		return 0, nil, err
	}
	partial, err := filestate.ParsePartialPolicy(c.PartialMode)
	if err != nil {
		return 0, nil, err
	}
	return edit, partial, nil
}

func (c *Config) defaultLedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// expandLedger replaces the DefaultLedger setting with its path.
func (c *Config) expandLedger() {
	if c.LedgerPath == DefaultLedger {
		c.LedgerPath = c.defaultLedgerPath()
	}
}

// HistoryLedger returns the ledger the history command reads: the
// configured one, else ledger.db in the data directory, which is
// where a restore run with -ledger default records.
func (c *Config) HistoryLedger() string {
	c.expandLedger()
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return c.defaultLedgerPath()
}

// Validate reports configuration that cannot run a restore.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input) == "" {
		return ErrNoInput
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	_, _, err := c.Policies()
	return err
}
