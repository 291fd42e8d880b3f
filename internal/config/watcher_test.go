package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "daemon:\n  log_level: info\n")

	reloads := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloads <- c })
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// a broken edit is ignored
	writeConfig(t, path, "daemon:\n  log_level: loud\n")
	select {
	case c := <-reloads:
		t.Fatalf("invalid config delivered: %+v", c.Daemon)
	case <-time.After(300 * time.Millisecond):
	}

	writeConfig(t, path, "daemon:\n  log_level: debug\n")
	select {
	case c := <-reloads:
		if c.Daemon.LogLevel != "debug" {
			t.Errorf("expected reloaded log level debug, got %s", c.Daemon.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() returned %v", err)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "daemon:\n  log_level: info\n")

	reloads := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { reloads <- c })
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	w.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, filepath.Join(dir, "other.yaml"), "x: 1\n")
	select {
	case <-reloads:
		t.Error("reload triggered by an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "config.yaml"), nil); err == nil {
		t.Error("expected error for missing directory")
	}
}
