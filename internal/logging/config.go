package logging

import (
	"os"
	"strings"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name to a Level, case-insensitively. Unknown
// names fall back to LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return LevelInfo
}

// Rotation bounds the session log kept on disk.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config selects where log output goes and how much of it.
type Config struct {
	// Level filters console output. The session log file records every level.
	Level Level

	// Verbose lowers the console level to debug without enabling traces.
	Verbose bool

	// Color renders console levels with ANSI styles.
	Color bool

	// Trace enables the JSONL event trace in TraceDir.
	Trace    bool
	TraceDir string

	// LogDir holds the rotated session log. Relative paths are resolved
	// against the process working directory.
	LogDir   string
	Rotation Rotation
}

const (
	DefaultTraceDir = "/tmp/toolloop-debug"
	DefaultLogDir   = ".toolloop/logs"
)

// ConfigFromEnv builds a Config from TOOLLOOP_DEBUG, TOOLLOOP_DEBUG_DIR,
// TOOLLOOP_LOG_DIR and TOOLLOOP_LOG_LEVEL. Console colors follow NO_COLOR
// and whether stderr is a terminal.
func ConfigFromEnv() Config {
	cfg := Config{
		Level:    LevelInfo,
		Color:    os.Getenv("NO_COLOR") == "" && isTerminal(os.Stderr),
		TraceDir: envOr("TOOLLOOP_DEBUG_DIR", DefaultTraceDir),
		LogDir:   envOr("TOOLLOOP_LOG_DIR", DefaultLogDir),
		Rotation: Rotation{MaxSizeMB: 10, MaxBackups: 5, MaxAgeDays: 28},
	}
	if os.Getenv("TOOLLOOP_DEBUG") == "1" {
		cfg.Trace = true
		cfg.Level = LevelDebug
	}
	if lvl := os.Getenv("TOOLLOOP_LOG_LEVEL"); lvl != "" {
		cfg.Level = ParseLevel(lvl)
	}
	return cfg
}

// WithVerbose returns a copy of c with verbose console output toggled.
func (c Config) WithVerbose(v bool) Config {
	c.Verbose = v
	return c
}

func (c Config) consoleLevel() Level {
	if c.Verbose || c.Trace {
		return LevelDebug
	}
	return c.Level
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
