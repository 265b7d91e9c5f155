package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

var levelColors = map[LogLevel]string{
	DEBUG: colorBlue,
	WARN:  colorYellow,
	ERROR: colorRed,
}

// ConsoleLogger writes human readable lines, typically to stderr. Loggers
// derived with WithTraceID share the writer and its lock.
type ConsoleLogger struct {
	out              *lockedWriter
	level            LogLevel
	traceID          string
	clock            clockwork.Clock
	colorEnabled     bool
	timestampEnabled bool
	redactSensitive  bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// ConsoleLoggerConfig contains configuration for console logger
type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
	// Clock stamps each line; the real clock when nil.
	Clock clockwork.Clock
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &ConsoleLogger{
		out:              &lockedWriter{w: config.Writer},
		level:            config.Level,
		clock:            config.Clock,
		colorEnabled:     config.ColorEnabled,
		timestampEnabled: config.TimestampEnabled,
		redactSensitive:  config.RedactSensitive,
	}
}

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(access_token|refresh_token|id_token|client_secret)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`), "Authorization: [REDACTED]"},
	// A resumable session URL is a bearer credential for the upload.
	{regexp.MustCompile(`(upload_id=)[A-Za-z0-9\-_]+`), "${1}[REDACTED]"},
}

func redactSensitiveData(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

func (l *ConsoleLogger) paint(sb *strings.Builder, color, text string) {
	if l.colorEnabled && color != "" {
		sb.WriteString(color)
		sb.WriteString(text)
		sb.WriteString(colorReset)
		return
	}
	sb.WriteString(text)
}

func (l *ConsoleLogger) formatMessage(level LogLevel, msg string, fields ...Field) string {
	var sb strings.Builder

	if l.timestampEnabled {
		l.paint(&sb, colorGray, l.clock.Now().Format("2006-01-02 15:04:05"))
		sb.WriteByte(' ')
	}
	l.paint(&sb, levelColors[level], fmt.Sprintf("%-5s", level.String()))
	sb.WriteByte(' ')

	if id := l.traceID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		l.paint(&sb, colorGray, "["+id+"]")
		sb.WriteByte(' ')
	}

	sb.WriteString(msg)
	for i, field := range fields {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", field.Key, field.Value)
	}

	if l.redactSensitive {
		return redactSensitiveData(sb.String())
	}
	return sb.String()
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields ...Field) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if level < l.level {
		return
	}
	_, _ = fmt.Fprintln(l.out.w, l.formatMessage(level, msg, fields...))
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *ConsoleLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *ConsoleLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *ConsoleLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

// WithTraceID returns a logger that prefixes each line with a short trace ID.
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	derived := *l
	derived.traceID = traceID
	return &derived
}

// WithContext returns a logger carrying the trace ID stored in ctx, if any.
func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

// SetLevel sets the minimum log level
func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) Close() error {
	return nil
}
