package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moltbunker/tierstake/internal/logging"
)

const defaultReloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk. Invalid edits
// are logged and ignored; the last good config stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	fsw      *fsnotify.Watcher
}

// NewWatcher watches the directory holding path, so editors that replace
// the file through a rename are still picked up.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	path, err := filepath.Abs(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:     path,
		debounce: defaultReloadDebounce,
		onChange: onChange,
		fsw:      fsw,
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run delivers reloads until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				settle = time.After(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("config watcher error", logging.Err(err), logging.Component("config"))

		case <-settle:
			settle = nil
			w.reload()
		}
	}
}

// Close stops watching without Run. Closing twice is harmless.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Warn("config reload rejected, keeping previous config",
			"path", w.path,
			logging.Err(err),
			logging.Component("config"))
		return
	}
	logging.Info("config reloaded", "path", w.path, logging.Component("config"))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
