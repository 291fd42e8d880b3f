package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSetAndGetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	customLogger := slog.New(slog.NewJSONHandler(&buf, nil))
	SetLogger(customLogger)

	if Logger() != customLogger {
		t.Error("Logger() did not return the logger set by SetLogger()")
	}
}

func TestSetOutput(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)
	Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"key"`) {
		t.Errorf("expected output to contain key, got: %s", output)
	}
}

func TestSetLevel(t *testing.T) {
	original := Logger()
	originalLevel := Level()
	defer func() {
		SetLogger(original)
		SetLevel(originalLevel)
	}()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(slog.LevelInfo)

	Debug("should not appear")
	if buf.Len() > 0 {
		t.Error("Debug messages should not appear at Info level")
	}

	// level changes apply to the existing handler
	SetLevel(slog.LevelDebug)
	Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("expected debug output after SetLevel, got: %s", buf.String())
	}
}

func TestTextOutputLevels(t *testing.T) {
	original := Logger()
	originalLevel := Level()
	defer func() {
		SetLogger(original)
		SetLevel(originalLevel)
	}()

	var buf bytes.Buffer
	SetTextOutput(&buf)
	SetLevel(slog.LevelDebug)

	tests := []struct {
		name    string
		logFunc func(string, ...any)
		level   string
	}{
		{"Debug", Debug, "DBG"},
		{"Info", Info, "INF"},
		{"Warn", Warn, "WRN"},
		{"Error", Error, "ERR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc(tt.name+" test message", "key", "val")
			output := buf.String()
			if !strings.Contains(output, tt.name+" test message") {
				t.Errorf("expected output to contain message, got: %s", output)
			}
			if !strings.Contains(output, tt.level) {
				t.Errorf("expected output to contain level %s, got: %s", tt.level, output)
			}
			if strings.Contains(output, "\x1b[") {
				t.Errorf("expected no color codes for a buffer, got: %q", output)
			}
		})
	}
}

func TestLogWithContext(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)
	ctx := context.Background()

	for _, fn := range []func(context.Context, string, ...any){InfoContext, WarnContext, ErrorContext} {
		buf.Reset()
		fn(ctx, "context message")
		if !strings.Contains(buf.String(), "context message") {
			t.Errorf("expected output to contain message, got: %s", buf.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetup(t *testing.T) {
	original := Logger()
	originalLevel := Level()
	defer func() {
		SetLogger(original)
		SetLevel(originalLevel)
	}()

	var buf bytes.Buffer
	if err := Setup("json", "warn", &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	Info("hidden")
	Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output: %s", buf.String())
	}
	if err := Setup("xml", "info", &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFieldHelpers(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tests := []struct {
		attr slog.Attr
		key  string
		val  string
	}{
		{Wallet(addr), "wallet", addr.Hex()},
		{TierID(3), "tier_id", "3"},
		{StakeIndex(7), "stake_index", "7"},
		{Amount("amount", big.NewInt(98)), "amount", "98"},
		{Amount("fee", nil), "fee", "0"},
		{RequestID("abc"), "request_id", "abc"},
		{Component("staking"), "component", "staking"},
		{Err(errors.New("boom")), "error", "boom"},
		{Err(nil), "error", ""},
	}
	for _, tt := range tests {
		if tt.attr.Key != tt.key {
			t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
		}
		if tt.attr.Value.String() != tt.val {
			t.Errorf("%s: expected value %q, got %q", tt.key, tt.val, tt.attr.Value.String())
		}
	}
}

func TestAudit(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)
	Audit(AuditEvent{Operation: "stake_opened", Actor: "0xabc", Target: "0xabc", Result: "success", Details: "seq=1"})

	output := buf.String()
	for _, want := range []string{`"audit":true`, `"operation":"stake_opened"`, `"details":"seq=1"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}
