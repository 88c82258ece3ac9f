// Package logging provides structured, standards-compliant logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stderr.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	requestID string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// New creates a new Logger. Output defaults to stderr so that stdout
// stays free for command results.
func New() *Logger {
	return &Logger{
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		requestID: l.requestID,
	}
}

// WithRequestID returns a new logger scoped to one execution request.
func (l *Logger) WithRequestID(id string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		requestID: id,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.requestID != "" {
		fieldStr += " req=" + l.requestID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// RequestReceived logs an execution request arriving over IPC.
func (l *Logger) RequestReceived(id, mode string, timeout time.Duration) {
	l.Info("request_received", map[string]interface{}{
		"id":      id,
		"mode":    mode,
		"timeout": timeout.String(),
	})
}

// RequestResolved logs the terminal status of an execution request.
func (l *Logger) RequestResolved(id, status string, duration time.Duration) {
	l.Info("request_resolved", map[string]interface{}{
		"id":       id,
		"status":   status,
		"duration": duration.String(),
	})
}

// PolicyDeny logs a static rule denial. The command itself is not logged
// here to keep secrets out of the log stream; the audit record carries it.
func (l *Logger) PolicyDeny(id, pattern string) {
	l.Warn("policy_deny", map[string]interface{}{
		"id":      id,
		"pattern": pattern,
	})
}

// ConfirmationResolved logs the human verdict on a tutor-mode request.
func (l *Logger) ConfirmationResolved(id, decision string) {
	l.Info("confirmation_resolved", map[string]interface{}{
		"id":       id,
		"decision": decision,
	})
}

// ChannelError logs a transport failure on the IPC channel.
func (l *Logger) ChannelError(op string, err error) {
	l.Error("channel_error", map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
}

// SessionDead logs the shell process exiting. The agent does not restart
// the shell on its own; an operator restart is required.
func (l *Logger) SessionDead(pid int) {
	l.Error("session_dead", map[string]interface{}{
		"pid": pid,
	})
}
