package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{" warn ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for _, k := range []string{"password", "Passphrase", "api_token", "client_secret"} {
		if !IsSensitiveKey(k) {
			t.Errorf("IsSensitiveKey(%q) = false", k)
		}
	}
	for _, k := range []string{"request_id", "slots", "carrier_elements"} {
		if IsSensitiveKey(k) {
			t.Errorf("IsSensitiveKey(%q) = true", k)
		}
	}
}

func TestRedactingCore(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(NewRedactingCore(obs))

	logger.With(zap.String("password", "hunter2")).Info("embed",
		zap.String("passphrase", "Str0ng!Pass"),
		zap.Int("slots", 16),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["password"] != Redacted || ctx["passphrase"] != Redacted {
		t.Errorf("secrets not redacted: %v", ctx)
	}
	if ctx["slots"] != int64(16) {
		t.Errorf("non-sensitive field altered: %v", ctx["slots"])
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulacra.log")
	logger, err := New(Options{Level: "debug", FilePath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("file sink", zap.String("password", "nope"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "file sink") {
		t.Errorf("log file missing entry: %s", out)
	}
	if strings.Contains(out, "nope") {
		t.Errorf("log file leaked a secret: %s", out)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "verbose"}); err == nil {
		t.Error("New() with unknown level should fail")
	}
}
