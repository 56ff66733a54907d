package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// FileName is the name of the log file created inside the log directory.
const FileName = "spotbridge.log"

// Logger provides structured logging with persistent attributes.
// Children created by With share their parent's output. It is safe for
// concurrent use.
type Logger struct {
	slog *slog.Logger
	out  *output
}

// output is the log destination shared by a logger and its children.
type output struct {
	mu     sync.Mutex
	closer io.Closer
}

func (o *output) close() error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closer == nil {
		return nil
	}
	err := o.closer.Close()
	o.closer = nil
	return err
}

// syncedFile flushes the file before closing it.
type syncedFile struct{ *os.File }

func (f syncedFile) Close() error {
	if err := f.Sync(); err != nil {
		_ = f.File.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.File.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// NewLogger creates a Logger appending JSON lines to {dir}/spotbridge.log,
// or writing to stderr when dir is empty. Messages below level are
// dropped; unknown levels mean INFO.
func NewLogger(dir string, level string) (*Logger, error) {
	if dir == "" {
		return newLogger(os.Stderr, level, nil), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return newLogger(f, level, syncedFile{f}), nil
}

// NewLoggerWithRotation is like NewLogger but rotates the log file once it
// exceeds the configured size.
func NewLoggerWithRotation(dir string, level string, config RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewLogger("", level)
	}
	rw, err := NewRotatingWriter(filepath.Join(dir, FileName), config)
	if err != nil {
		return nil, err
	}
	return newLogger(rw, level, rw), nil
}

// NewWriterLogger creates a Logger writing JSON lines to w. The caller owns w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(w, level, nil)
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{slog: slog.New(slog.DiscardHandler)}
}

func newLogger(w io.Writer, level string, closer io.Closer) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{slog: slog.New(h), out: &output{closer: closer}}
}

func parseLevel(level string) slog.Level {
	switch ParseLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a child Logger that tags every entry with the run ID.
func (l *Logger) WithRun(runID string) *Logger { return l.With("run_id", runID) }

// WithTool returns a child Logger that tags every entry with the tool name.
func (l *Logger) WithTool(tool string) *Logger { return l.With("tool", tool) }

// WithEnv returns a child Logger that tags every entry with an environment name.
func (l *Logger) WithEnv(name string) *Logger { return l.With("env", name) }

// With returns a child Logger carrying the given key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{slog: l.slog.With(args...), out: l.out}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close flushes and closes the log file shared with every child logger.
// Loggers writing to stderr or a caller-owned writer treat this as a no-op.
func (l *Logger) Close() error {
	return l.out.close()
}

// ParseLevel normalizes a level name. Unknown names map to LevelInfo.
func ParseLevel(level string) string {
	switch up := strings.ToUpper(level); up {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return up
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// Indent prefixes every line of text with n spaces, for logging
// multi-line blocks such as scripts and manifests.
func Indent(text string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = pad + line
	}
	return strings.Join(lines, "\n")
}
