package gatewayws

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// writerLogger implements Logger on top of an io.Writer. Loggers derived through WithField share the
// writer and its lock, so concurrent goroutines never interleave partial lines.
type writerLogger struct {
	mu     *sync.Mutex
	writer io.Writer
	level  Level
	fields map[string]any
}

// NewWriterLogger creates a logger that writes lines of at least the given level to writer.
func NewWriterLogger(writer io.Writer, level Level) Logger {
	return &writerLogger{
		mu:     &sync.Mutex{},
		writer: writer,
		level:  level,
		fields: make(map[string]any),
	}
}

func (l *writerLogger) WithField(key string, value any) Logger {
	newLogger := &writerLogger{
		mu:     l.mu,
		writer: l.writer,
		level:  l.level,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	newLogger.fields[key] = value
	return newLogger
}

func (l *writerLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func (l *writerLogger) log(level Level, msg string) {
	if level < l.level {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fields := l.formatFields()

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "[%s] %s%s: %s\n", timestamp, level, fields, strings.TrimRight(msg, "\n"))
}

func (l *writerLogger) Debug(args ...any) {
	l.log(LevelDebug, fmt.Sprint(args...))
}

func (l *writerLogger) Debugf(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugln(args ...any) {
	l.log(LevelDebug, fmt.Sprintln(args...))
}

func (l *writerLogger) Info(args ...any) {
	l.log(LevelInfo, fmt.Sprint(args...))
}

func (l *writerLogger) Infof(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Infoln(args ...any) {
	l.log(LevelInfo, fmt.Sprintln(args...))
}

func (l *writerLogger) Warn(args ...any) {
	l.log(LevelWarn, fmt.Sprint(args...))
}

func (l *writerLogger) Warnf(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnln(args ...any) {
	l.log(LevelWarn, fmt.Sprintln(args...))
}

func (l *writerLogger) Error(args ...any) {
	l.log(LevelError, fmt.Sprint(args...))
}

func (l *writerLogger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorln(args ...any) {
	l.log(LevelError, fmt.Sprintln(args...))
}
