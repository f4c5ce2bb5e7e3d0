package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	// LevelDebug indicates fine-grained diagnostic logging
	LevelDebug Level = "debug"
	// LevelInfo indicates informational logging
	LevelInfo Level = "info"
	// LevelWarn indicates non-fatal warnings
	LevelWarn Level = "warn"
	// LevelError indicates error logging requiring attention
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a configuration string into a Level.
// Unknown values fall back to info.
func ParseLevel(s string) Level {
	level := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[level]; ok {
		return level
	}
	return LevelInfo
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Type      string                 `json:"type"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// sink is shared between a logger and all of its named children so that
// concurrent writers (setup endpoint and config poller) do not interleave lines.
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
}

// Logger provides structured logging
type Logger struct {
	minLevel  Level
	component string
	sink      *sink
}

// NewLogger creates a new logger writing to stderr
func NewLogger(minLevel Level) *Logger {
	return NewWriterLogger(minLevel, os.Stderr)
}

// NewWriterLogger creates a logger writing to an arbitrary writer
func NewWriterLogger(minLevel Level, w io.Writer) *Logger {
	return &Logger{
		minLevel: minLevel,
		sink:     &sink{output: w},
	}
}

// NewFileLogger creates a new logger writing to a file
func NewFileLogger(minLevel Level, logFilePath string) (*Logger, error) {
	logDir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		minLevel: minLevel,
		sink:     &sink{output: logFile, logFile: logFile},
	}, nil
}

// Named returns a child logger that stamps every event with the component name.
// Nested names are joined with a dot.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}
	return &Logger{
		minLevel:  l.minLevel,
		component: name,
		sink:      l.sink,
	}
}

// Component returns the component name stamped on events
func (l *Logger) Component() string {
	return l.component
}

// Close closes the log file if open
func (l *Logger) Close() error {
	if l.sink != nil && l.sink.logFile != nil {
		return l.sink.logFile.Close()
	}
	return nil
}

// Log writes a structured log event
func (l *Logger) Log(level Level, eventType, message string, payload map[string]interface{}) {
	if l == nil || !l.shouldLog(level) {
		return
	}

	event := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Type:      eventType,
		Component: l.component,
		Message:   message,
		Payload:   payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log event: %v\n", err)
		return
	}

	var output io.Writer = os.Stderr
	if l.sink != nil && l.sink.output != nil {
		output = l.sink.output
		l.sink.mu.Lock()
		defer l.sink.mu.Unlock()
	}

	if _, err := fmt.Fprintln(output, string(data)); err != nil {
		if output != os.Stderr {
			fmt.Fprintf(os.Stderr, "Failed to write log event: %v\n", err)
		}
	}
}

// Debug logs a debug-level event
func (l *Logger) Debug(eventType, message string, payload map[string]interface{}) {
	l.Log(LevelDebug, eventType, message, payload)
}

// Info logs an info-level event
func (l *Logger) Info(eventType, message string, payload map[string]interface{}) {
	l.Log(LevelInfo, eventType, message, payload)
}

// Warn logs a warn-level event
func (l *Logger) Warn(eventType, message string, payload map[string]interface{}) {
	l.Log(LevelWarn, eventType, message, payload)
}

// Error logs an error-level event
func (l *Logger) Error(eventType, message string, payload map[string]interface{}) {
	l.Log(LevelError, eventType, message, payload)
}

// shouldLog determines if a log level should be output
func (l *Logger) shouldLog(level Level) bool {
	return levelRank[level] >= levelRank[l.minLevel]
}
