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

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
)

// Options configures where and how much the logger writes
type Options struct {
	Level   string // debug, info, warn, error
	Dir     string // empty disables the file sink
	Name    string // file prefix, e.g. "signal-bridge"
	Console bool
}

// Logger writes levelled entries to the console and a daily log file
type Logger struct {
	zl        zerolog.Logger
	component string
	file      *os.File
	mu        *sync.Mutex
	path      string
}

// New creates a logger with the given options
func New(opts Options) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"})
	}

	l := &Logger{mu: &sync.Mutex{}}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := opts.Name
		if name == "" {
			name = "bridge"
		}
		filename := fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02"))
		l.path = filepath.Join(opts.Dir, filename)

		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	l.writeSessionHeader()
	return l, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), mu: &sync.Mutex{}}
}

// NewWithWriter creates a logger writing JSON lines to w, mainly for tests
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger(), mu: &sync.Mutex{}}
}

// With returns a child logger tagged with a component name
func (l *Logger) With(component string) *Logger {
	child := *l
	child.component = component
	child.zl = l.zl.With().Str("component", component).Logger()
	return &child
}

// writeSessionHeader marks the start of a process run in the log
func (l *Logger) writeSessionHeader() {
	l.zl.Info().Str("event", "session_start").Int("pid", os.Getpid()).Msg("signal bridge session started")
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	var ev *zerolog.Event
	switch level {
	case LogLevelDebug:
		ev = l.zl.Debug()
	case LogLevelWarning:
		ev = l.zl.Warn()
	case LogLevelError:
		ev = l.zl.Error()
	case LogLevelTrade:
		ev = l.zl.Info().Str("kind", "trade")
	default:
		ev = l.zl.Info()
	}
	ev.Msgf(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.zl.Error().Err(err).Msg(context)
}

// Close writes the session footer and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	l.zl.Info().Str("event", "session_end").Msg("signal bridge session ended")
	err := l.file.Close()
	l.file = nil
	return err
}

// GetLogPath returns the current log file path, empty when logging to console only
func (l *Logger) GetLogPath() string {
	return l.path
}
