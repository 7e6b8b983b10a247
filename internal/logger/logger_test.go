package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func resetLoggerState() {
	fileWriter = nil
}

func TestInit(t *testing.T) {
	Init()

	if Log.GetLevel() != zerolog.Disabled {
		t.Errorf("Init() should produce nop logger (Disabled level), got %v", Log.GetLevel())
	}
}

func TestNewLoggerNilOptions(t *testing.T) {
	resetLoggerState()

	if err := NewLogger(nil); err != nil {
		t.Fatalf("NewLogger(nil) should not fail, got: %v", err)
	}
	if Log.GetLevel() != zerolog.Disabled {
		t.Error("NewLogger(nil) should produce a nop logger")
	}
}

func TestNewLoggerFileOnly(t *testing.T) {
	resetLoggerState()
	tmpDir := t.TempDir()

	opts := &Options{
		LogsDir:    tmpDir,
		FileConfig: &LoggingConfig{MaxSizeMB: 1},
	}
	if err := NewLogger(opts); err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { Close() })

	if Debug() == nil || Info() == nil || Warn() == nil || Error() == nil {
		t.Error("log level helpers should return non-nil events once initialized")
	}

	logPath := GetLogFilePath()
	expected := filepath.Join(tmpDir, "swiftide-docker-executor.log")
	if logPath != expected {
		t.Errorf("GetLogFilePath = %q, want %q", logPath, expected)
	}

	Info().Msg("test log message")
	if err := Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	content, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "test log message") {
		t.Error("log file should contain the test message")
	}
}

func TestNewLoggerFileDisabled(t *testing.T) {
	resetLoggerState()

	disabled := false
	opts := &Options{
		LogsDir:    "/some/path",
		FileConfig: &LoggingConfig{FileEnabled: &disabled},
	}
	if err := NewLogger(opts); err != nil {
		t.Fatalf("NewLogger with file logging disabled should not fail: %v", err)
	}
	if GetLogFilePath() != "" {
		t.Error("GetLogFilePath should be empty when file logging is disabled")
	}
}

func TestLoggingConfigDefaults(t *testing.T) {
	cfg := &LoggingConfig{}
	if !cfg.IsFileEnabled() {
		t.Error("IsFileEnabled should default to true when nil")
	}
	if cfg.GetMaxSizeMB() != 50 {
		t.Errorf("GetMaxSizeMB should default to 50, got %d", cfg.GetMaxSizeMB())
	}
	if cfg.GetMaxAgeDays() != 7 {
		t.Errorf("GetMaxAgeDays should default to 7, got %d", cfg.GetMaxAgeDays())
	}
	if cfg.GetMaxBackups() != 3 {
		t.Errorf("GetMaxBackups should default to 3, got %d", cfg.GetMaxBackups())
	}

	cfg = &LoggingConfig{MaxSizeMB: 20, MaxAgeDays: 14, MaxBackups: 5}
	if cfg.GetMaxSizeMB() != 20 || cfg.GetMaxAgeDays() != 14 || cfg.GetMaxBackups() != 5 {
		t.Error("custom values should be honored")
	}

	falseVal := false
	cfg.Compress = &falseVal
	if cfg.IsCompressEnabled() {
		t.Error("IsCompressEnabled should return false when explicitly disabled")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	resetLoggerState()
	tmpDir := t.TempDir()

	opts := &Options{LogsDir: tmpDir, FileConfig: &LoggingConfig{MaxSizeMB: 1}}
	if err := NewLogger(opts); err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("second Close should be a no-op, got: %v", err)
	}
	if GetLogFilePath() != "" {
		t.Error("GetLogFilePath should return empty after Close")
	}
}
