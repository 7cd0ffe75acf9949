package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "console")

	logger, err := NewLoggerFromEnv()
	if err != nil {
		t.Fatalf("NewLoggerFromEnv failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("Expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("Expected warn to be enabled")
	}
}

func TestNewLogger_RejectsUnknownFormat(t *testing.T) {
	config := DefaultConfig()
	config.Format = "xml"

	if _, err := NewLogger(config); err == nil {
		t.Error("Expected an error for an unknown encoding")
	}
}

func TestWithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := &Logger{zap.New(core)}

	ctx := ContextWithFields(context.Background(), zap.String("request_id", "req-1"))
	ctx = ContextWithFields(ctx, zap.String("subject", "alice"))

	logger.WithContext(ctx).Info("posted")
	logger.WithContext(context.Background()).Info("plain")

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["subject"] != "alice" {
		t.Errorf("Expected request fields on the entry, got %v", fields)
	}
	if len(entries[1].Context) != 0 {
		t.Errorf("Expected no fields without context values, got %v", entries[1].Context)
	}
}

func TestGlobal(t *testing.T) {
	previous := L()
	t.Cleanup(func() { SetGlobal(previous) })

	logger := NewNoOpLogger()
	SetGlobal(logger)
	if L() != logger {
		t.Error("L did not return the logger passed to SetGlobal")
	}
}
