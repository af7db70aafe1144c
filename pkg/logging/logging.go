// Package logging provides leveled, structured logging for animeta
// components with optional JSON output and per-component levels.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level.
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

// ParseLevel converts a level name (case-insensitive) into a Level.
// Unrecognized names fall back to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Format defines the output format for log entries.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Fields carries structured key/value context for a log entry.
type Fields map[string]interface{}

// entry is the serialized form of a single log line.
type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
}

// Logger provides structured logging with levels and context fields.
// Child loggers created by WithFields share the parent's sink, level,
// and component overrides through a common core.
type Logger struct {
	core          *loggerCore
	contextFields Fields
}

// loggerCore is the mutable state shared by a logger and all of its
// children. One mutex guards it so SetComponentLevel on the parent
// never races a child's level check.
type loggerCore struct {
	mu              sync.Mutex
	level           Level
	output          io.Writer
	format          Format
	componentLevels map[string]Level
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer
	Format Format
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  INFO,
		Output: os.Stdout,
		Format: FormatText,
	}
}

// New creates a logger from config, applying defaults for zero values.
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Logger{
		core: &loggerCore{
			level:           config.Level,
			output:          config.Output,
			format:          config.Format,
			componentLevels: make(map[string]Level),
		},
		contextFields: make(Fields),
	}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return New(Config{Level: ERROR + 1, Output: io.Discard})
}

// WithField returns a child logger with one additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a child logger with additional context fields. The
// child shares the parent's output, level, and component overrides.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.contextFields)+len(fields))
	for k, v := range l.contextFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{core: l.core, contextFields: merged}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// SetLevel sets the level for this logger and every logger sharing its
// core.
func (l *Logger) SetLevel(level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.level = level
}

// SetComponentLevel overrides the level for one component.
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.componentLevels[component] = level
}

// enabled reports whether a message at level should be emitted. Caller
// must hold the core lock.
func (l *Logger) enabled(level Level) bool {
	if component, ok := l.contextFields["component"].(string); ok {
		if compLevel, exists := l.core.componentLevels[component]; exists {
			return level >= compLevel
		}
	}
	return level >= l.core.level
}

func (l *Logger) log(level Level, message string, fields Fields) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()

	if !l.enabled(level) {
		return
	}

	e := entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
	}
	if len(l.contextFields) > 0 || len(fields) > 0 {
		e.Fields = make(Fields, len(l.contextFields)+len(fields))
		for k, v := range l.contextFields {
			e.Fields[k] = v
		}
		for k, v := range fields {
			e.Fields[k] = v
		}
	}

	var line string
	if l.core.format == FormatJSON {
		if data, err := json.Marshal(e); err == nil {
			line = string(data) + "\n"
		} else {
			line = formatText(e)
		}
	} else {
		line = formatText(e)
	}
	_, _ = l.core.output.Write([]byte(line))
}

func formatText(e entry) string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(e.Level)
	sb.WriteString("] ")
	sb.WriteString(e.Message)
	if len(e.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Fields) {
	l.log(DEBUG, message, firstOrNil(fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields ...Fields) {
	l.log(INFO, message, firstOrNil(fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Fields) {
	l.log(WARN, message, firstOrNil(fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Fields) {
	l.log(ERROR, message, firstOrNil(fields))
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

func firstOrNil(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}
