package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func testLayout(t *testing.T) Layout {
	dir := t.TempDir()
	return Layout{DataDir: dir, StoreDir: filepath.Join(dir, "store")}
}

func noop(Layout) error { return nil }

func TestNewMigrator(t *testing.T) {
	m := NewMigrator(Layout{DataDir: "/tmp/test-data"}, nil)
	if m == nil {
		t.Fatal("NewMigrator returned nil")
	}
	if m.dataDir != "/tmp/test-data" {
		t.Errorf("expected dataDir /tmp/test-data, got %s", m.dataDir)
	}
	if m.applied == nil {
		t.Error("expected initialized applied map")
	}
	if len(m.migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(m.migrations))
	}
}

func TestRegisterAndPending(t *testing.T) {
	m := NewMigrator(testLayout(t), nil)

	m.Register(Migration{Version: 2, Description: "second"})
	m.Register(Migration{Version: 1, Description: "first"})

	pending := m.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Version != 1 {
		t.Errorf("expected first pending version 1, got %d", pending[0].Version)
	}
	if pending[1].Version != 2 {
		t.Errorf("expected second pending version 2, got %d", pending[1].Version)
	}
}

func TestRunMigrations(t *testing.T) {
	l := testLayout(t)
	if err := os.Chmod(l.DataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := NewMigrator(l, nil)
	RegisterDefaultMigrations(m)

	if err := m.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for _, dir := range []string{l.DataDir, l.StoreDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if perm := info.Mode().Perm(); perm != 0o700 {
			t.Errorf("expected %s to be 0700, got %o", dir, perm)
		}
	}

	if pending := m.Pending(); len(pending) != 0 {
		t.Errorf("expected 0 pending after Run, got %d", len(pending))
	}
	if m.CurrentVersion() != m.LatestVersion() {
		t.Errorf("expected current version %d, got %d", m.LatestVersion(), m.CurrentVersion())
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	m := NewMigrator(testLayout(t), nil)

	callCount := 0
	m.Register(Migration{
		Version:     1,
		Description: "counting migration",
		Up: func(Layout) error {
			callCount++
			return nil
		},
	})

	if err := m.Run(); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected migration to run exactly once, ran %d times", callCount)
	}
}

func TestSaveLoadApplied(t *testing.T) {
	l := testLayout(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))

	if err := Migrate(l, clock); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	m2 := NewMigrator(l, clock)
	RegisterDefaultMigrations(m2)
	if err := m2.LoadApplied(); err != nil {
		t.Fatalf("LoadApplied() error: %v", err)
	}
	if pending := m2.Pending(); len(pending) != 0 {
		t.Errorf("expected 0 pending after load, got %d", len(pending))
	}
	if got := m2.applied[1]; !got.Equal(clock.Now()) {
		t.Errorf("expected applied time %v, got %v", clock.Now(), got)
	}
}

func TestRun_RefusesNewerLayout(t *testing.T) {
	l := testLayout(t)

	newer := NewMigrator(l, nil)
	RegisterDefaultMigrations(newer)
	newer.Register(Migration{Version: 99, Description: "from the future", Up: noop})
	if err := newer.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	err := Migrate(l, nil)
	if err == nil || !strings.Contains(err.Error(), "v99") {
		t.Fatalf("expected downgrade refusal, got %v", err)
	}
}

func TestCurrentVersion(t *testing.T) {
	m := NewMigrator(testLayout(t), nil)

	if v := m.CurrentVersion(); v != 0 {
		t.Errorf("expected current version 0, got %d", v)
	}

	m.Register(Migration{Version: 1, Description: "first", Up: noop})
	m.Register(Migration{Version: 3, Description: "third", Up: noop})

	if err := m.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if v := m.CurrentVersion(); v != 3 {
		t.Errorf("expected current version 3, got %d", v)
	}
}

func TestLoadApplied_NoFile(t *testing.T) {
	m := NewMigrator(testLayout(t), nil)

	if err := m.LoadApplied(); err != nil {
		t.Fatalf("LoadApplied() with no file should not error: %v", err)
	}
	if m.CurrentVersion() != 0 {
		t.Errorf("expected version 0 when no file, got %d", m.CurrentVersion())
	}
}
