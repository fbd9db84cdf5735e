// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     logging
// Description: Structured logger with key/value API shared by all components
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package logging

import (
	"io"
	"os"
	"sync"
	"time"
)

// Config holds logger configuration
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
	Name   string
}

var (
	defaultsMu sync.RWMutex
	defaults   = Config{Level: LevelInfo, Format: FormatText, Output: os.Stdout}

	// writeMu serializes writes of all loggers sharing an output
	writeMu sync.Mutex
)

// SetDefaults sets level, format and output for loggers created with New
func SetDefaults(cfg Config) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.Name = ""
	defaults = cfg
}

// Logger writes structured entries
type Logger struct {
	level  Level
	format Format
	output io.Writer
	name   string
	fields Fields
}

// New creates a named logger using the process defaults
func New(name string) *Logger {
	defaultsMu.RLock()
	cfg := defaults
	defaultsMu.RUnlock()
	cfg.Name = name
	return NewWithConfig(cfg)
}

// NewWithConfig creates a logger with an explicit configuration
func NewWithConfig(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		level:  cfg.Level,
		format: cfg.Format,
		output: out,
		name:   cfg.Name,
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithConfig(Config{Level: LevelError + 1, Output: io.Discard})
}

// With returns a child logger carrying the given key/value pairs on every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	clone := *l
	clone.fields = make(Fields, len(l.fields))
	for k, v := range l.fields {
		clone.fields[k] = v
	}
	for k, v := range toFields(keysAndValues...) {
		clone.fields[k] = v
	}
	return &clone
}

// WithLevel returns a copy with a different minimum level
func (l *Logger) WithLevel(level Level) *Logger {
	clone := *l
	clone.level = level
	return &clone
}

// Name returns the logger name
func (l *Logger) Name() string {
	return l.name
}

// IsLevelEnabled reports whether entries at level are written
func (l *Logger) IsLevelEnabled(level Level) bool {
	return level >= l.level
}

// Trace logs a trace message
func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.log(LevelTrace, msg, keysAndValues)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues)
}

func (l *Logger) log(level Level, msg string, keysAndValues []interface{}) {
	if l == nil || !l.IsLevelEnabled(level) {
		return
	}

	entry := &Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Logger:    l.name,
		Message:   msg,
	}

	extra := toFields(keysAndValues...)
	if len(l.fields)+len(extra) > 0 {
		entry.Fields = make(Fields, len(l.fields)+len(extra))
		for k, v := range l.fields {
			entry.Fields[k] = v
		}
		for k, v := range extra {
			entry.Fields[k] = v
		}
	}

	var data []byte
	if l.format == FormatJSON {
		var err error
		if data, err = formatJSON(entry); err != nil {
			return
		}
	} else {
		data = formatText(entry, level)
	}

	writeMu.Lock()
	l.output.Write(data)
	writeMu.Unlock()
}
