// Package logging provides the structured logger used across the root task.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger wraps stdlib log with level support and structured key/value context.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	format string // "text" or "json"
	fields []any  // flattened key/value pairs carried by With*
	mu     *sync.Mutex
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "text" (default) or "json"
	Output  io.Writer
	Sync    bool // reserved for callers that need synchronous flush semantics
	NoColor bool // reserved; the root console never emits ANSI color
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
		format: format,
		mu:     &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// With returns a child logger carrying the given key/value pairs on every call.
func (l *Logger) With(args ...any) *Logger {
	child := &Logger{
		logger: l.logger,
		level:  l.level,
		format: l.format,
		mu:     l.mu,
	}
	child.fields = append(append([]any{}, l.fields...), args...)
	return child
}

// WithDevice tags subsequent log lines with a device/node id.
func (l *Logger) WithDevice(devID uint32) *Logger {
	return l.With("device_id", devID)
}

// WithQueue tags subsequent log lines with a virtio queue or console session id.
func (l *Logger) WithQueue(queueID int) *Logger {
	return l.With("queue_id", queueID)
}

// WithRequest tags subsequent log lines with a request tag and op/verb.
func (l *Logger) WithRequest(tag uint64, op string) *Logger {
	return l.With("tag", tag, "op", op)
}

// WithError tags subsequent log lines with an error value.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func formatArgsText(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	all := append(append([]any{}, l.fields...), args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		rec := map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": prefix,
			"msg":   msg,
		}
		for i := 0; i < len(all); i += 2 {
			if i+1 < len(all) {
				rec[fmt.Sprintf("%v", all[i])] = all[i+1]
			}
		}
		b, err := json.Marshal(rec)
		if err != nil {
			l.logger.Printf("%s %s%s", prefix, msg, formatArgsText(all))
			return
		}
		l.logger.Output(2, string(b))
		return
	}

	l.logger.Printf("%s %s%s", prefix, msg, formatArgsText(all))
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}
func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}
func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}
func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf exists for compatibility with callers that log free-form progress lines.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
