package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that indicate a log attribute key holds a secret value.
// Values logged under these keys will be fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"private_key",
	"credential",
	"keystore",
}

// ethPrivateKeyPattern matches Ethereum-style private keys (0x followed by 64 hex chars).
// Transaction hashes share the shape; callers log those under tx_hash, which is exempt.
var ethPrivateKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`)

// bareKeyPattern matches 64 hex chars without a prefix, the format key files and env vars use.
var bareKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)

var exemptKeys = map[string]bool{
	"tx_hash":    true,
	"block_hash": true,
	"signature":  true,
}

// RedactingHandler wraps an slog.Handler and redacts sensitive values before they
// are passed to the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps the given inner handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive attribute values and forwards the record to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	newRecord.AddAttrs(redacted...)
	return h.inner.Handle(ctx, newRecord)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if exemptKeys[key] {
		return a
	}
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	if a.Value.Kind() == slog.KindString {
		val := a.Value.String()
		if redacted := redactString(val); redacted != val {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// redactString masks anything shaped like a raw private key.
func redactString(val string) string {
	val = ethPrivateKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
		return match[:6] + "..." + match[len(match)-4:]
	})
	return bareKeyPattern.ReplaceAllStringFunc(val, func(match string) string {
		return match[:4] + "...[REDACTED]"
	})
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}
	defaultLogger = slog.New(NewRedactingHandler(handler))
}
