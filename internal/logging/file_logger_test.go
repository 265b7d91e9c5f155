package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileLogger(t *testing.T, level LogLevel, maxSize int64) (*FileLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "drivesync.log")
	logger, err := NewFileLogger(FileLoggerConfig{
		FilePath:      logPath,
		Level:         level,
		MaxFileSize:   maxSize,
		RotateEnabled: maxSize > 0,
	})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	t.Cleanup(func() {
		if closeErr := logger.Close(); closeErr != nil {
			t.Fatalf("Failed to close logger: %v", closeErr)
		}
	})
	return logger, logPath
}

func readEntries(t *testing.T, logPath string) []LogEntry {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to parse log entry %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestFileLogger_Creation(t *testing.T) {
	_, logPath := newTestFileLogger(t, INFO, 1024)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestFileLogger_Logging(t *testing.T) {
	logger, logPath := newTestFileLogger(t, DEBUG, 0)

	logger.Debug("scanning local tree", F("root", "/home/sam/Drive"))
	logger.Info("upload completed", F("bytes", 123))
	logger.Warn("item failed")
	logger.Error("sync aborted", F("auth", true))

	if err := logger.Close(); err != nil {
		t.Fatalf("Failed to close logger: %v", err)
	}

	entries := readEntries(t, logPath)
	if len(entries) != 4 {
		t.Fatalf("Expected 4 log entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Level != "DEBUG" {
		t.Errorf("Entry.Level = %v, want DEBUG", first.Level)
	}
	if first.Message != "scanning local tree" {
		t.Errorf("Entry.Message = %v, want 'scanning local tree'", first.Message)
	}
	if first.Fields["root"] != "/home/sam/Drive" {
		t.Errorf("Entry.Fields[root] = %v, want '/home/sam/Drive'", first.Fields["root"])
	}
	if first.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if entries[1].Fields["bytes"] != float64(123) {
		t.Errorf("Entry.Fields[bytes] = %v, want 123", entries[1].Fields["bytes"])
	}
	if entries[2].Level != "WARN" {
		t.Errorf("Entry.Level = %v, want WARN", entries[2].Level)
	}
	if len(entries[2].Fields) != 0 {
		t.Errorf("Expected no fields, got %v", entries[2].Fields)
	}
}

func TestFileLogger_LevelFiltering(t *testing.T) {
	logger, logPath := newTestFileLogger(t, WARN, 0)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
	logger.Close()

	if entries := readEntries(t, logPath); len(entries) != 2 {
		t.Errorf("Expected 2 log entries, got %d", len(entries))
	}
}

func TestFileLogger_SetLevel(t *testing.T) {
	logger, logPath := newTestFileLogger(t, DEBUG, 0)

	logger.Debug("debug 1")
	logger.SetLevel(ERROR)
	logger.Debug("debug 2")
	logger.Info("info 2")
	logger.Error("error 1")
	logger.Close()

	if entries := readEntries(t, logPath); len(entries) != 2 {
		t.Errorf("Expected 2 log entries, got %d", len(entries))
	}
}

func TestFileLogger_TraceIDs(t *testing.T) {
	logger, logPath := newTestFileLogger(t, INFO, 0)

	logger.WithTraceID("trace-123-456").Info("from trace id")
	ctx := ContextWithTraceID(context.Background(), "ctx-trace-789")
	logger.WithContext(ctx).Info("from context")
	logger.WithContext(context.Background()).Info("untraced")
	logger.Close()

	entries := readEntries(t, logPath)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(entries))
	}
	if entries[0].TraceID != "trace-123-456" {
		t.Errorf("Entry.TraceID = %v, want trace-123-456", entries[0].TraceID)
	}
	if entries[1].TraceID != "ctx-trace-789" {
		t.Errorf("Entry.TraceID = %v, want ctx-trace-789", entries[1].TraceID)
	}
	if entries[2].TraceID != "" {
		t.Errorf("Entry.TraceID = %v, want empty", entries[2].TraceID)
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	logger, logPath := newTestFileLogger(t, INFO, 100)

	for i := 0; i < 20; i++ {
		logger.Info("This is a test message that should trigger rotation")
	}
	logger.Close()

	files, err := filepath.Glob(logPath + "*")
	if err != nil {
		t.Fatalf("Failed to glob log files: %v", err)
	}
	if len(files) < 2 {
		t.Errorf("Expected at least 2 log files (original + rotated), got %d", len(files))
	}
}

func TestFileLogger_CloseTwice(t *testing.T) {
	logger, _ := newTestFileLogger(t, INFO, 0)

	if err := logger.Close(); err != nil {
		t.Fatalf("First Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
	logger.Info("after close")
}
