package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is the severity of a log line
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	SILENT
)

var (
	levelNames = map[Level]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[Level]string{
		DEBUG: "\033[36m",
		INFO:  "\033[32m",
		WARN:  "\033[33m",
		ERROR: "\033[31m",
	}
)

const resetColor = "\033[0m"

// Logger writes leveled lines tagged with the emitting module, e.g.
//
//	2026/10/17 12:00:00.000000 [INFO] [Link] connected to 2C:CF:67:98:33:08
type Logger struct {
	mu       sync.Mutex
	level    Level
	useColor bool
	out      *log.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(INFO, os.Stderr, false)
)

// New creates a Logger writing to output (stderr when nil)
func New(level Level, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		level:    level,
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// Init replaces the process-wide logger
func Init(level Level, output io.Writer, useColor bool) {
	defaultMu.Lock()
	defaultLogger = New(level, output, useColor)
	defaultMu.Unlock()
}

// Default returns the process-wide logger
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetLevel changes the minimum level that is written
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// GetLevel returns the minimum level that is written
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Enabled reports whether lines at level would be written
func (l *Logger) Enabled(level Level) bool {
	return level < SILENT && level >= l.GetLevel()
}

func (l *Logger) logf(level Level, module, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	prefix := "[" + levelNames[level] + "]"
	if l.useColor {
		prefix = levelColors[level] + prefix + resetColor
	}
	if module != "" {
		prefix += " [" + module + "]"
	}

	l.out.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(module, format string, args ...interface{}) {
	l.logf(DEBUG, module, format, args...)
}

func (l *Logger) Info(module, format string, args ...interface{}) {
	l.logf(INFO, module, format, args...)
}

func (l *Logger) Warn(module, format string, args ...interface{}) {
	l.logf(WARN, module, format, args...)
}

func (l *Logger) Error(module, format string, args ...interface{}) {
	l.logf(ERROR, module, format, args...)
}

// StdLogger returns a *log.Logger that writes INFO lines for module.
// Used to hand the logger to libraries that expect the stdlib type.
func (l *Logger) StdLogger(module string) *log.Logger {
	return log.New(&lineWriter{l: l, module: module}, "", 0)
}

type lineWriter struct {
	l      *Logger
	module string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.l.Info(w.module, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Package-level helpers writing through the default logger

func Debug(module, format string, args ...interface{}) {
	Default().Debug(module, format, args...)
}

func Info(module, format string, args ...interface{}) {
	Default().Info(module, format, args...)
}

func Warn(module, format string, args ...interface{}) {
	Default().Warn(module, format, args...)
}

func Error(module, format string, args ...interface{}) {
	Default().Error(module, format, args...)
}

// ParseLevel parses a level name (case-insensitive)
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
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
