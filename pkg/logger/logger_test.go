package logger

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSetupWriter(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		check  func(t *testing.T, writer interface{})
	}{
		{
			name:   "stdout output",
			config: Config{Output: "stdout"},
			check: func(t *testing.T, writer interface{}) {
				if writer != os.Stdout {
					t.Error("expected os.Stdout")
				}
			},
		},
		{
			name:   "stderr output",
			config: Config{Output: "stderr"},
			check: func(t *testing.T, writer interface{}) {
				if writer != os.Stderr {
					t.Error("expected os.Stderr")
				}
			},
		},
		{
			name:   "default output",
			config: Config{Output: ""},
			check: func(t *testing.T, writer interface{}) {
				if writer != os.Stdout {
					t.Error("expected os.Stdout as default")
				}
			},
		},
		{
			name:   "file output without filename",
			config: Config{Output: "file"},
			check: func(t *testing.T, writer interface{}) {
				if writer != os.Stdout {
					t.Error("expected os.Stdout when filename is empty")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := SetupWriter(tt.config)
			tt.check(t, writer)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	logger := NewLogger(cfg)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")
}

func TestNewLoggerTextFormat(t *testing.T) {
	cfg := Config{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	}

	logger := NewLogger(cfg)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}
