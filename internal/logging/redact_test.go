package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestRedactingLogger(buf *bytes.Buffer) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewRedactingHandler(inner))
}

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestRedact_NormalValuesPassThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)

	logger.Info("stake opened",
		"wallet", "0x00000000000000000000000000000000000000b1",
		"amount", "10000",
		"tier_id", 1,
	)

	output := buf.String()
	for _, expected := range []string{"0x00000000000000000000000000000000000000b1", "10000"} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q, got: %s", expected, output)
		}
	}
	if strings.Contains(output, "[REDACTED]") {
		t.Errorf("normal values should not be redacted, got: %s", output)
	}
}

func TestRedact_SensitiveKeys(t *testing.T) {
	for _, key := range []string{"password", "keystore_passphrase", "client_secret", "private_key"} {
		var buf bytes.Buffer
		newTestRedactingLogger(&buf).Info("msg", key, "hunter2")
		if strings.Contains(buf.String(), "hunter2") {
			t.Errorf("value under %q leaked: %s", key, buf.String())
		}
	}
}

func TestRedact_PrivateKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf)
	logger.Info("loaded", "detail", "key=0x"+testKey, "raw", testKey)

	output := buf.String()
	if strings.Contains(output, testKey) {
		t.Errorf("private key leaked: %s", output)
	}
	if !strings.Contains(output, "0x4c08...2318") {
		t.Errorf("expected masked prefixed key, got: %s", output)
	}
}

func TestRedact_TxHashExempt(t *testing.T) {
	var buf bytes.Buffer
	newTestRedactingLogger(&buf).Info("mined", "tx_hash", "0x"+testKey)
	if !strings.Contains(buf.String(), testKey) {
		t.Errorf("tx_hash should not be redacted: %s", buf.String())
	}
}

func TestRedact_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestRedactingLogger(&buf).With("password", "hunter2")
	logger.Info("msg")
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("WithAttrs value leaked: %s", buf.String())
	}
}

func TestEnableRedaction_NoDoubleWrap(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetOutput(&buf)
	EnableRedaction()
	first := Logger().Handler()
	EnableRedaction()
	if Logger().Handler() != first {
		t.Error("EnableRedaction wrapped the handler twice")
	}
	Info("msg", "secret", "hunter2")
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("secret leaked: %s", buf.String())
	}
}
