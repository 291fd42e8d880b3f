package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/tint"
)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	mu            sync.RWMutex
)

func init() {
	// JSON on stdout for production
	defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetLogger sets the global logger
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// SetOutput switches to JSON output on w
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetTextOutput switches to colored human-readable output on w (for development)
func SetTextOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(w),
	}))
}

// SetLevel changes the level of the current logger in place
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level returns the current logging level
func Level() slog.Level {
	return level.Level()
}

// ParseLevel maps a config string (debug, info, warn, error) to a level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Setup configures the global logger from config values. format is
// "json" or "text".
func Setup(format, lvl string, w io.Writer) error {
	l, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	switch format {
	case "", "json":
		SetOutput(w)
	case "text":
		SetTextOutput(w)
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}
	SetLevel(l)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Logger returns the default logger
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// With returns a logger with additional context
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// DebugContext logs at debug level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger().DebugContext(ctx, msg, args...)
}

// InfoContext logs at info level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().InfoContext(ctx, msg, args...)
}

// WarnContext logs at warn level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger().WarnContext(ctx, msg, args...)
}

// ErrorContext logs at error level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger().ErrorContext(ctx, msg, args...)
}

// Common field helpers
func Wallet(addr common.Address) slog.Attr {
	return slog.String("wallet", addr.Hex())
}

func TierID(id uint32) slog.Attr {
	return slog.Uint64("tier_id", uint64(id))
}

func StakeIndex(idx int) slog.Attr {
	return slog.Int("stake_index", idx)
}

func Amount(key string, v *big.Int) slog.Attr {
	if v == nil {
		return slog.String(key, "0")
	}
	return slog.String(key, v.String())
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
