// Package obs provides the leveled logger used across the synchronization
// core, plus structured persistence of log entries into the logs table.
package obs

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	// DebugLevel is for debug messages.
	DebugLevel Level = iota
	// InfoLevel is for informational messages.
	InfoLevel
	// WarnLevel is for warning messages.
	WarnLevel
	// ErrorLevel is for error messages.
	ErrorLevel
	// CriticalLevel is for messages that require immediate attention.
	CriticalLevel
)

// String returns the string representation of the level: debug, info,
// warning, error, critical.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case CriticalLevel:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseLevel converts a configuration string into a Level. Unknown values
// default to InfoLevel.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warning", "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "critical":
		return CriticalLevel
	default:
		return InfoLevel
	}
}

// Entry is the persisted shape of a log record written to the logs table.
type Entry struct {
	Tenant    string
	Level     Level
	Channel   string
	Message   string
	Context   map[string]interface{}
	CreatedAt time.Time
}

// Sink persists Entry rows, e.g. Store, the gorm-backed logs table. Logger
// works with no Sink configured (stdout only); WithContext entries are only
// durably recorded once a Sink is attached.
type Sink interface {
	WriteLog(Entry) error
}

// Logger is a leveled logger guarding a standard library *log.Logger and an
// optional structured Sink.
type Logger struct {
	mu     sync.Mutex
	level  Level
	logger *log.Logger
	output io.Writer
	sink   Sink
}

var defaultLogger *Logger

func init() {
	defaultLogger = New(os.Stdout, "", InfoLevel)
}

// New creates a Logger writing to out at the given prefix and minimum level.
func New(out io.Writer, prefix string, level Level) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(out, prefix, log.LstdFlags),
		output: out,
	}
}

// SetSink attaches a structured sink used by WithContext.
func (l *Logger) SetSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = s
}

// SetLevel sets the minimum level that reaches the output.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetOutput redirects the textual log stream.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.logger.SetOutput(w)
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, v...)
	l.logger.Printf("[%s] %s", level.String(), msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, v ...interface{}) { l.log(DebugLevel, format, v...) }

// Info logs an informational message.
func (l *Logger) Info(format string, v ...interface{}) { l.log(InfoLevel, format, v...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, v ...interface{}) { l.log(WarnLevel, format, v...) }

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) { l.log(ErrorLevel, format, v...) }

// Critical logs a critical message.
func (l *Logger) Critical(format string, v ...interface{}) { l.log(CriticalLevel, format, v...) }

// WithContext emits to the textual stream and, if a Sink is attached,
// durably persists the structured record. The decrypted credential value
// must never be placed in ctx.
func (l *Logger) WithContext(tenant string, level Level, channel, message string, ctx map[string]interface{}) {
	l.log(level, "[%s/%s] %s %v", tenant, channel, message, ctx)

	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return
	}
	_ = sink.WriteLog(Entry{
		Tenant:    tenant,
		Level:     level,
		Channel:   channel,
		Message:   message,
		Context:   ctx,
		CreatedAt: time.Now(),
	})
}

// Default returns the process-wide default logger.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum level on the default logger.
func SetLevel(level Level) { defaultLogger.SetLevel(level) }

// Debug logs using the default logger.
func Debug(format string, v ...interface{}) { defaultLogger.Debug(format, v...) }

// Info logs using the default logger.
func Info(format string, v ...interface{}) { defaultLogger.Info(format, v...) }

// Warn logs using the default logger.
func Warn(format string, v ...interface{}) { defaultLogger.Warn(format, v...) }

// Error logs using the default logger.
func Error(format string, v ...interface{}) { defaultLogger.Error(format, v...) }

// Critical logs using the default logger.
func Critical(format string, v ...interface{}) { defaultLogger.Critical(format, v...) }
