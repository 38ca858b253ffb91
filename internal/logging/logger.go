// Package logging provides the logging interface and default implementations for segmentkv.
//
// Five levels (Error, Warn, Info, Debug, Fatal). Users can wrap their own
// structured loggers (slog, zap) by implementing Logger.
//
// Fatalf logs at FATAL level and calls the configured FatalHandler. The
// default handler is a no-op. The database wraps its logger with
// WithFatalHandler so a fatal condition lands in its own async error slot and
// surfaces on the next Close. Fatalf never exits the process.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/01/12 18:45:13 INFO [merge] merged 4 segments into keys.1.9
//
// Component namespace prefixes:
//   - [db]       open/close and general database operations
//   - [flush]    memory segment flushes
//   - [merge]    background and closing merges
//   - [log]      write-ahead log replay
//   - [recovery] segment loading and pruning at open
//   - [reclaim]  deferred removal of superseded segment files
//   - [backup]   backup and restore
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"sync/atomic"
)

// ErrFatal is the sentinel error wrapped by fatal conditions.
var ErrFatal = errors.New("fatal error")

// FatalHandler is called when Fatalf is invoked.
//
// Contract: FatalHandler must be safe for concurrent use and must not call Fatalf.
type FatalHandler func(msg string)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface for database logging.
//
// Implementations MUST be safe for concurrent use: the merger, the
// reclamation queue and callers all log from their own goroutines.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)

	// Fatalf logs a fatal error and triggers the fatal handler.
	Fatalf(format string, args ...any)
}

// DefaultLogger writes leveled lines through a standard library log.Logger.
// Level is read-only after construction.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger creates a logger writing to stderr at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// SetFatalHandler sets the handler called when Fatalf is invoked.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Level returns the logging level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.output(LevelError, format, args...)
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.output(LevelWarn, format, args...)
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	l.output(LevelInfo, format, args...)
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.output(LevelDebug, format, args...)
}

// Fatalf logs at FATAL level regardless of the configured level and then
// calls the fatal handler, if any.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)

	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

func (l *DefaultLogger) output(level Level, format string, args ...any) {
	if l.level < level {
		return
	}
	_ = l.logger.Output(3, level.String()+" "+fmt.Sprintf(format, args...))
}

// WithFatalHandler returns a Logger that forwards to l and calls h after every
// Fatalf. l is not modified, so one logger can serve several databases.
func WithFatalHandler(l Logger, h FatalHandler) Logger {
	return &fatalLogger{Logger: OrDefault(l), handler: h}
}

type fatalLogger struct {
	Logger
	handler FatalHandler
}

func (l *fatalLogger) Fatalf(format string, args ...any) {
	l.Logger.Fatalf(format, args...)
	l.handler(fmt.Sprintf(format, args...))
}

// Namespace prefixes for log messages.
const (
	NSDB       = "[db] "
	NSFlush    = "[flush] "
	NSMerge    = "[merge] "
	NSLog      = "[log] "
	NSRecovery = "[recovery] "
	NSReclaim  = "[reclaim] "
	NSBackup   = "[backup] "
)

// IsNil returns true if the logger is nil or a typed-nil pointer.
//
//	var l *MyLogger = nil
//	opts.Logger = l  // interface is not nil, but calling methods panics
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l when it is usable, otherwise a WARN-level stderr logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
