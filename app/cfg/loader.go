package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage locations
	DataDir   string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Base directory for run folders and persistent stores"`
	InputDir  string `long:"input-dir" env:"INPUT_DIR" default:"./input" description:"Directory containing sites.yaml and keywords.yaml"`
	Output    string `long:"output" description:"Explicit output path, bypassing run resolution (untracked, no resumability)"`
	HistoryDB string `long:"history-db" env:"HISTORY_DB" description:"SQLite database file for delivery history (JSON document store when unset)"`

	// Filtering policy toggles
	RetryFailed    bool `long:"retry-failed" description:"Include candidates whose extraction failed"`
	IncludeExpired bool `long:"include-expired" description:"Include candidates with an expired deadline"`
	IncludeSent    bool `long:"include-sent" description:"Include candidates already delivered to the recipient"`

	// Run behavior
	IgnoreHistory bool `long:"ignore-history" description:"Treat every scraped URL as unseen (history keeps growing)"`
	DryRun        bool `long:"dry-run" description:"Compute everything but never write to the delivery history"`

	// Application configuration
	WorkerCount  int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of workers for per-recipient filtering"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP status server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the status server (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Scrapiens/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for run dates (e.g., UTC, Europe/Brussels)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	Args struct {
		Command string `positional-arg-name:"command" description:"scrape | deduplicate | classify | extract | match-keywords | build-digest | send | pipeline | status | serve"`
	} `positional-args:"yes"`
}

type Cfg struct {
	Command string

	DataDir   string
	InputDir  string
	Output    string
	HistoryDB string

	RetryFailed    bool
	IncludeExpired bool
	IncludeSent    bool

	IgnoreHistory bool
	DryRun        bool

	WorkerCount  int
	Port         string
	APIAccessKey string

	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Command:        raw.Args.Command,
		DataDir:        raw.DataDir,
		InputDir:       raw.InputDir,
		Output:         raw.Output,
		HistoryDB:      raw.HistoryDB,
		RetryFailed:    raw.RetryFailed,
		IncludeExpired: raw.IncludeExpired,
		IncludeSent:    raw.IncludeSent,
		IgnoreHistory:  raw.IgnoreHistory,
		DryRun:         raw.DryRun,
		WorkerCount:    raw.WorkerCount,
		Port:           raw.Port,
		APIAccessKey:   raw.APIAccessKey,
		UserAgent:      raw.UserAgent,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if cfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return err
		}
		time.Local = loc
	}
	return nil
}
