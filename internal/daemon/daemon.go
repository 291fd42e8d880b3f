// Package daemon assembles the staking ledger with its store, token, event
// stream and HTTP API, and runs them as one process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/moltbunker/tierstake/internal/api"
	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/metrics"
	"github.com/moltbunker/tierstake/internal/migration"
	"github.com/moltbunker/tierstake/internal/payment"
	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/internal/store"
	"github.com/moltbunker/tierstake/internal/util"
)

const defaultGCInterval = 10 * time.Minute

// Options tunes New beyond what the config file holds.
type Options struct {
	// ConfigPath is watched for log level changes. Empty disables the watcher.
	ConfigPath string
	// PasswordPrompt allows asking for the custody wallet password on a TTY.
	PasswordPrompt bool
	// InMemoryStore keeps events and snapshots in memory.
	InMemoryStore bool
	Clock         clockwork.Clock
	Version       string
	GCInterval    time.Duration
}

// Daemon owns every long-running component.
type Daemon struct {
	cfg  *config.Config
	opts Options

	store   *store.Store
	token   *payment.TokenContract
	chain   *payment.BaseClient // nil with mock payments
	prom    *metrics.PrometheusCollector
	ledger  *staking.Service
	hub     *api.Hub
	server  *api.Server
	watcher *config.Watcher

	restored bool

	mu      sync.Mutex
	running bool
	closed  bool
}

// New migrates the data directory, opens the store, connects the token and
// restores or seeds the ledger.
// Nothing is listening until Run.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}
	if !opts.InMemoryStore {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		layout := migration.Layout{DataDir: cfg.Daemon.DataDir, StoreDir: cfg.Daemon.StoreDir}
		if err := migration.Migrate(layout, opts.Clock); err != nil {
			return nil, err
		}
	}

	d := &Daemon{cfg: cfg, opts: opts}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	st, err := store.Open(store.Options{Dir: cfg.Daemon.StoreDir, InMemory: opts.InMemoryStore})
	if err != nil {
		return nil, err
	}
	d.store = st

	d.token, d.chain, err = openToken(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	d.prom = metrics.NewPrometheusCollector(metrics.NewCollector())
	d.hub = api.NewHub(d.prom)

	if err := d.openLedger(); err != nil {
		return nil, err
	}

	var chain api.ChainStatus
	if d.chain != nil {
		chain = d.chain
	}
	d.server, err = api.NewServer(api.Options{
		Config:     cfg.API,
		Ledger:     d.ledger,
		Events:     d.store,
		Metrics:    d.prom,
		Prometheus: d.prom.PrometheusHandler(),
		Hub:        d.hub,
		Chain:      chain,
		Clock:      opts.Clock,
		Version:    opts.Version,
	})
	if err != nil {
		return nil, err
	}

	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(opts.ConfigPath, d.applyReload)
		if err != nil {
			logging.Warn("config watcher disabled", logging.Err(err), logging.Component("daemon"))
		} else {
			d.watcher = w
		}
	}

	ok = true
	return d, nil
}

// Ledger returns the staking service.
func (d *Daemon) Ledger() *staking.Service {
	return d.ledger
}

// Token returns the token the ledger moves funds with.
func (d *Daemon) Token() *payment.TokenContract {
	return d.token
}

// Handler returns the HTTP API handler without a listener.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// Restored reports whether the ledger was loaded from a stored snapshot.
func (d *Daemon) Restored() bool {
	return d.restored
}

// Run listens on the configured API address until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.API.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.API.ListenAddr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It closes the daemon on return.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	d.mu.Lock()
	if d.running || d.closed {
		d.mu.Unlock()
		ln.Close()
		return errors.New("daemon already running")
	}
	d.running = true
	d.mu.Unlock()
	defer d.Close()

	g, gctx := errgroup.WithContext(ctx)
	util.GroupGo(g, "api-server", func() error { return d.server.Serve(gctx, ln) })
	util.GroupGo(g, "event-hub", func() error { return d.hub.Run(gctx) })
	util.GroupGo(g, "store-gc", func() error { return d.store.RunGC(gctx, d.opts.GCInterval) })
	if d.watcher != nil {
		util.GroupGo(g, "config-watcher", func() error { return d.watcher.Run(gctx) })
	}

	logging.Info("daemon started",
		"addr", ln.Addr().String(),
		"owner", d.ledger.Owner().Hex(),
		"tiers", len(d.ledger.ListTiers()),
		"restored", d.restored,
		"mock_payments", d.token.IsMockMode(),
		logging.Component("daemon"))

	err := g.Wait()
	logging.Info("daemon stopped", logging.Component("daemon"))
	return err
}

// Close releases the store and chain connection. It is safe to call twice.
func (d *Daemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	var errs []error
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.chain != nil {
		d.chain.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// applyReload picks up the settings that can change without a restart.
func (d *Daemon) applyReload(c *config.Config) {
	lvl, err := logging.ParseLevel(c.Daemon.LogLevel)
	if err != nil {
		logging.Warn("ignoring reloaded log level", logging.Err(err), logging.Component("daemon"))
		return
	}
	if lvl != logging.Level() {
		logging.SetLevel(lvl)
		logging.Info("log level changed", "level", lvl.String(), logging.Component("daemon"))
	}
}
