package rtvoice

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// LogLevelDebug logs everything including detailed debugging information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo logs informational messages and above
	LogLevelInfo
	// LogLevelWarn logs warnings and above
	LogLevelWarn
	// LogLevelError logs only errors
	LogLevelError
	// LogLevelOff disables all logging
	LogLevelOff
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	case "OFF":
		return LogLevelOff
	default:
		return LogLevelInfo
	}
}

// Logger provides structured logging with configurable levels.
// Each call emits one zerolog event whose message is the event name.
type Logger struct {
	mu     sync.RWMutex
	level  LogLevel
	prefix string
	zl     zerolog.Logger
}

// NewLogger creates a new structured logger writing human-readable lines to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr, "console")
}

// NewLoggerWithWriter creates a logger writing to w. format is "json" or "console".
func NewLoggerWithWriter(level LogLevel, w io.Writer, format string) *Logger {
	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro, NoColor: !isTerminal(w)}
	}
	return &Logger{
		level:  level,
		prefix: "rtvoice",
		zl:     zerolog.New(out).With().Timestamp().Logger(),
	}
}

// NewLoggerFromEnv creates a logger with level from RTVOICE_LOG_LEVEL and
// format from RTVOICE_LOG_FORMAT.
func NewLoggerFromEnv() *Logger {
	level := ParseLogLevel(os.Getenv("RTVOICE_LOG_LEVEL"))
	return NewLoggerWithWriter(level, os.Stderr, os.Getenv("RTVOICE_LOG_FORMAT"))
}

// NewLoggerFromConfig creates a logger from the LogLevel and LogFormat settings.
func NewLoggerFromConfig(cfg Config) *Logger {
	return NewLoggerWithWriter(ParseLogLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
}

// SetLevel updates the logger's minimum level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the logger's minimum level.
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetPrefix updates the component name attached to every line
func (l *Logger) SetPrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefix = prefix
}

// Debug logs debug-level messages
func (l *Logger) Debug(event string, fields map[string]interface{}) {
	l.log(LogLevelDebug, event, fields)
}

// Info logs info-level messages
func (l *Logger) Info(event string, fields map[string]interface{}) {
	l.log(LogLevelInfo, event, fields)
}

// Warn logs warning-level messages
func (l *Logger) Warn(event string, fields map[string]interface{}) {
	l.log(LogLevelWarn, event, fields)
}

// Error logs error-level messages
func (l *Logger) Error(event string, fields map[string]interface{}) {
	l.log(LogLevelError, event, fields)
}

func (l *Logger) log(level LogLevel, event string, fields map[string]interface{}) {
	l.mu.RLock()
	threshold, prefix, zl := l.level, l.prefix, l.zl
	l.mu.RUnlock()
	if level < threshold || level >= LogLevelOff {
		return
	}

	var e *zerolog.Event
	switch level {
	case LogLevelDebug:
		e = zl.Debug()
	case LogLevelInfo:
		e = zl.Info()
	case LogLevelWarn:
		e = zl.Warn()
	default:
		e = zl.Error()
	}
	if prefix != "" {
		e = e.Str("component", prefix)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(event)
}

// DefaultLogger is the default logger instance used when no custom logger is provided
var DefaultLogger = NewLoggerFromEnv()

// LogError logs an error message using the default logger
func LogError(event string, fields map[string]interface{}) {
	DefaultLogger.Error(event, fields)
}

// ContextLogger wraps the base Logger with fields added to every message.
type ContextLogger struct {
	*Logger
	context map[string]interface{}
}

// WithContext returns a logger that includes additional context in all log messages
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		Logger:  l,
		context: context,
	}
}

// mergeFields combines the contextual fields with message-specific fields
func (cl *ContextLogger) mergeFields(fields map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(cl.context)+len(fields))
	for k, v := range cl.context {
		merged[k] = v
	}
	// Message fields override context on the same key.
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

// Debug logs debug-level messages with context
func (cl *ContextLogger) Debug(event string, fields map[string]interface{}) {
	cl.Logger.Debug(event, cl.mergeFields(fields))
}

// Info logs info-level messages with context
func (cl *ContextLogger) Info(event string, fields map[string]interface{}) {
	cl.Logger.Info(event, cl.mergeFields(fields))
}

// Warn logs warning-level messages with context
func (cl *ContextLogger) Warn(event string, fields map[string]interface{}) {
	cl.Logger.Warn(event, cl.mergeFields(fields))
}

// Error logs error-level messages with context
func (cl *ContextLogger) Error(event string, fields map[string]interface{}) {
	cl.Logger.Error(event, cl.mergeFields(fields))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
