// Package logging is the structured logger used across the watcher, the
// stream relay and the CLI. Entries are written one logfmt line each to an
// output writer and retained in a bounded in-memory buffer.
package logging

import (
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu     sync.Mutex
	writer io.Writer
	buffer *LogBuffer
	now    func() time.Time
}

type Logger struct {
	sink     *sink
	minLevel Level
	category Category
	fields   map[string]string
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stderr)
}

// NewLoggerWithOutput writes lines to output. A nil output only buffers.
func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if !minLevel.Valid() {
		minLevel = LevelInfo
	}
	return &Logger{
		sink:     &sink{writer: output, buffer: buffer, now: time.Now},
		minLevel: minLevel,
	}
}

// Discard returns a logger that keeps entries in a small buffer and writes
// nothing.
func Discard() *Logger {
	return NewLoggerWithOutput(NewLogBuffer(64), LevelInfo, nil)
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.sink.buffer
}

// ForCategory returns a logger whose entries carry category.
func (l *Logger) ForCategory(category Category) *Logger {
	if l == nil {
		return nil
	}
	derived := *l
	derived.category = category
	return &derived
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	derived := *l
	derived.fields = mergeFields(l.fields, fields)
	return &derived
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return level.rank() >= l.minLevel.rank()
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	s := l.sink
	entry := Entry{
		Time:     s.now().UTC(),
		Level:    level,
		Category: l.category,
		Message:  message,
		Fields:   mergeFields(l.fields, fields),
	}
	s.buffer.Add(entry)
	if s.writer == nil {
		return
	}
	line := entry.logfmt()
	s.mu.Lock()
	_, _ = io.WriteString(s.writer, line)
	s.mu.Unlock()
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}

// logfmt renders the entry as a single newline-terminated line. Fields
// follow in key order.
func (e Entry) logfmt() string {
	var builder strings.Builder
	builder.WriteString("time=")
	builder.WriteString(e.Time.Format(time.RFC3339Nano))
	builder.WriteString(" level=")
	builder.WriteString(string(e.Level))
	if e.Category != CategoryNone {
		builder.WriteString(" category=")
		builder.WriteString(string(e.Category))
	}
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(e.Message))

	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		builder.WriteByte(' ')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(strconv.Quote(e.Fields[key]))
	}
	builder.WriteByte('\n')
	return builder.String()
}
