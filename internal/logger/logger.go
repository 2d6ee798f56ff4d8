package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", s)
	}
}

// Logger writes leveled JSON lines to a daily log file, optionally echoed
// to a console writer. Child loggers created by With share the parent's
// file and level.
type Logger struct {
	mu            sync.RWMutex
	level         Level
	file          *os.File
	zl            zerolog.Logger
	console       io.Writer
	logDir        string
	currentDay    string
	retentionDays int

	parent    *Logger
	component string
}

// Config holds logger configuration
type Config struct {
	LogDir        string
	Level         Level
	RetentionDays int
	// Console, when set, receives a human-readable copy of every entry
	Console io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		baseDir = "."
	}

	return Config{
		LogDir:        filepath.Join(baseDir, "EzCapture", "logs"),
		Level:         INFO,
		RetentionDays: 7,
	}
}

// New creates a new file logger
func New(config Config) (*Logger, error) {
	l := &Logger{
		level:         config.Level,
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
		console:       config.Console,
	}

	if err := l.rotateLog(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return l, nil
}

// NewWriter creates a logger that writes JSON lines to w without a log file.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{
		level: level,
		zl:    zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWriter(io.Discard, ERROR+1)
}

// With returns a child logger tagging every entry with component.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{parent: l.root(), component: component}
}

func (l *Logger) root() *Logger {
	if l.parent != nil {
		return l.parent
	}
	return l
}

func (l *Logger) output(file io.Writer) io.Writer {
	if l.console == nil {
		return file
	}
	console := zerolog.ConsoleWriter{Out: l.console, TimeFormat: time.TimeOnly}
	return zerolog.MultiLevelWriter(file, console)
}

// rotateLog rotates the log file if necessary
func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().Format("20060102")

	// Check if we need to rotate (new day)
	if l.currentDay == today && l.file != nil {
		return nil
	}

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("ezcapture-%s.log", today)
	filePath := filepath.Join(l.logDir, filename)

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.currentDay = today
	l.zl = zerolog.New(l.output(file)).With().Timestamp().Logger()

	if err := l.cleanOldLogs(); err != nil {
		// Don't fail rotation over retention
		l.zl.Warn().Err(err).Msg("failed to clean old logs")
	}

	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (l *Logger) cleanOldLogs() error {
	if l.retentionDays <= 0 {
		return nil
	}
	cutoffDate := time.Now().AddDate(0, 0, -l.retentionDays)

	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			os.Remove(filepath.Join(l.logDir, entry.Name()))
		}
	}

	return nil
}

// checkRotation checks if log rotation is needed and performs it
func (l *Logger) checkRotation() {
	l.mu.RLock()
	currentDay := l.currentDay
	hasFile := l.logDir != ""
	l.mu.RUnlock()

	if !hasFile {
		return
	}

	if currentDay != time.Now().Format("20060102") {
		if err := l.rotateLog(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	if l == nil {
		return
	}
	r := l.root()

	r.mu.RLock()
	enabled := level >= r.level
	r.mu.RUnlock()
	if !enabled {
		return
	}

	r.checkRotation()

	r.mu.RLock()
	zl := r.zl
	r.mu.RUnlock()

	ev := zl.WithLevel(level.zerolog())
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	ev.Msgf(format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, format, v...)
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil || l.parent != nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	r := l.root()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	r := l.root()
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.level
}
