package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/moltbunker/tierstake/internal/config"
	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/payment"
	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/internal/util"
)

// EventSource pages the audit log. The badger store serves it across
// restarts; without one the ledger's in-memory log is used.
type EventSource interface {
	Events(from uint64, limit int) ([]staking.Event, error)
}

// MetricsRecorder is the subset of the metrics collectors the server uses.
type MetricsRecorder interface {
	RecordRequest(route string)
	RecordLatency(route string, d time.Duration)
	IncrementStreamClients()
	DecrementStreamClients()
	GetMetricsJSON() ([]byte, error)
}

// ChainStatus reports RPC endpoint health for /health. Nil in mock mode.
type ChainStatus interface {
	ActiveEndpoint() string
	Endpoints() []payment.EndpointHealth
}

// Options wires the server's collaborators.
type Options struct {
	Config     config.APIConfig
	Ledger     *staking.Service
	Events     EventSource     // optional
	Metrics    MetricsRecorder // optional
	Prometheus http.Handler    // optional, served at /metrics
	Hub        *Hub            // optional, enables /v1/events/ws
	Chain      ChainStatus     // optional
	Clock      clockwork.Clock
	Version    string
}

// Server is the HTTP API in front of the staking ledger.
type Server struct {
	config  config.APIConfig
	ledger  *staking.Service
	events  EventSource
	metrics MetricsRecorder
	prom    http.Handler
	hub     *Hub
	chain   ChainStatus
	clock   clockwork.Clock
	auth    *WalletAuth
	version string
	started time.Time
	handler http.Handler

	rateLimiters sync.Map // ip -> *rateLimiterEntry

	mu         sync.Mutex
	httpServer *http.Server
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// NewServer builds the server and its router.
func NewServer(opts Options) (*Server, error) {
	if opts.Ledger == nil {
		return nil, errors.New("api: ledger is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	s := &Server{
		config:  opts.Config,
		ledger:  opts.Ledger,
		events:  opts.Events,
		metrics: opts.Metrics,
		prom:    opts.Prometheus,
		hub:     opts.Hub,
		chain:   opts.Chain,
		clock:   opts.Clock,
		version: opts.Version,
		started: opts.Clock.Now(),
		auth:    NewWalletAuth(time.Duration(opts.Config.AuthWindowSecs)*time.Second, opts.Clock),
	}
	if s.events == nil {
		s.events = ledgerEvents{opts.Ledger}
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: seconds(s.config.ReadTimeoutSecs, 30),
		IdleTimeout:       seconds(s.config.IdleTimeoutSecs, 120),
	}
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("api: server already running")
	}
	s.httpServer = srv
	s.mu.Unlock()

	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	util.SafeGoWithName("api-ratelimit-cleanup", func() { s.rateLimiterCleanup(cleanupCtx) })

	errCh := make(chan error, 1)
	util.SafeGoWithName("api-serve", func() {
		logging.Info("HTTP API server starting", "addr", ln.Addr().String(), logging.Component("api"))
		errCh <- srv.Serve(ln)
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	<-errCh
	logging.Info("API server stopped", logging.Component("api"))
	return nil
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

type access int

const (
	public access = iota
	wallet
	owner
)

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Public queries
	s.route(mux, "GET /v1/tiers", public, s.handleListTiers)
	s.route(mux, "GET /v1/tiers/{id}", public, s.handleGetTier)
	s.route(mux, "GET /v1/stats", public, s.handleStats)
	s.route(mux, "GET /v1/params", public, s.handleParams)
	s.route(mux, "GET /v1/users/{addr}", public, s.handleUser)
	s.route(mux, "GET /v1/users/{addr}/stakes", public, s.handleUserStakes)
	s.route(mux, "GET /v1/users/{addr}/pending", public, s.handlePending)
	s.route(mux, "GET /v1/estimate", public, s.handleEstimate)
	s.route(mux, "GET /v1/eligibility", public, s.handleEligibility)
	s.route(mux, "GET /v1/events", public, s.handleEvents)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/events/ws", s.withRateLimit(s.handleEventStream))
	}

	// Wallet-signed user operations
	s.route(mux, "POST /v1/stakes", wallet, s.handleStake)
	s.route(mux, "POST /v1/stakes/{idx}/unstake", wallet, s.handleUnstake)
	s.route(mux, "POST /v1/stakes/{idx}/claim", wallet, s.handleClaim)
	s.route(mux, "POST /v1/stakes/{idx}/emergency", wallet, s.handleEmergencyUnstake)
	s.route(mux, "POST /v1/stakes/{idx}/compound", wallet, s.handleToggleCompound)
	s.route(mux, "POST /v1/claim-all", wallet, s.handleClaimAll)
	s.route(mux, "POST /v1/compound-all", wallet, s.handleCompoundAll)

	// Owner operations
	s.route(mux, "POST /v1/admin/tiers", owner, s.handleAddTier)
	s.route(mux, "PUT /v1/admin/tiers/{id}", owner, s.handleUpdateTier)
	s.route(mux, "PUT /v1/admin/tiers/{id}/premium-bonus", owner, s.handleSetPremiumBonus)
	s.route(mux, "PUT /v1/admin/premium/{addr}", owner, s.handleSetPremiumUser)
	s.route(mux, "PUT /v1/admin/params/{name}", owner, s.handleSetParam)
	s.route(mux, "PUT /v1/admin/reward-pool", owner, s.handleSetRewardPool)
	s.route(mux, "POST /v1/admin/fund", owner, s.handleFund)
	s.route(mux, "POST /v1/admin/withdraw", owner, s.handleWithdraw)
	s.route(mux, "POST /v1/admin/pause", owner, s.handlePause)
	s.route(mux, "POST /v1/admin/unpause", owner, s.handleUnpause)
	s.route(mux, "PUT /v1/admin/owner", owner, s.handleTransferOwnership)

	return s.globalCORSMiddleware(mux)
}

// route registers h behind rate limiting, request metrics and the auth
// level. The pattern doubles as the metrics route label.
func (s *Server) route(mux *http.ServeMux, pattern string, level access, h http.HandlerFunc) {
	switch level {
	case wallet:
		h = s.withWallet(h)
	case owner:
		h = s.withOwner(h)
	}
	mux.HandleFunc(pattern, s.withRateLimit(s.withMetrics(pattern, s.withBodyLimit(h))))
}

// globalCORSMiddleware sets CORS headers on every response, including
// preflights and 404s, so browsers see the real status.
func (s *Server) globalCORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, o := range s.config.CORSOrigins {
		if o == "*" || o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, "+HeaderWalletAddress+", "+HeaderWalletSignature+", "+HeaderWalletMessage)
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
			return
		}
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	if s.config.RateLimitRequests <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.rateLimiter(ip).Allow() {
			logging.Warn("rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
				logging.Component("api"))
			w.Header().Set("Retry-After", strconv.Itoa(s.rateWindowSecs()))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) rateWindowSecs() int {
	if s.config.RateLimitWindowSecs <= 0 {
		return 60
	}
	return s.config.RateLimitWindowSecs
}

// rateLimiter returns the limiter for ip, refilling RateLimitRequests tokens
// per window with the full window as burst.
func (s *Server) rateLimiter(ip string) *rate.Limiter {
	now := s.clock.Now()
	if val, ok := s.rateLimiters.Load(ip); ok {
		entry := val.(*rateLimiterEntry)
		entry.mu.Lock()
		entry.lastSeen = now
		entry.mu.Unlock()
		return entry.limiter
	}
	every := time.Duration(s.rateWindowSecs()) * time.Second / time.Duration(s.config.RateLimitRequests)
	entry := &rateLimiterEntry{
		limiter:  rate.NewLimiter(rate.Every(every), s.config.RateLimitRequests),
		lastSeen: now,
	}
	actual, _ := s.rateLimiters.LoadOrStore(ip, entry)
	return actual.(*rateLimiterEntry).limiter
}

func (s *Server) rateLimiterCleanup(ctx context.Context) {
	ticker := s.clock.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.cleanupRateLimiters()
		}
	}
}

func (s *Server) cleanupRateLimiters() {
	stale := s.clock.Now().Add(-10 * time.Minute)
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		entry.mu.Lock()
		old := entry.lastSeen.Before(stale)
		entry.mu.Unlock()
		if old {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters", "count", cleaned, logging.Component("api"))
	}
}

// clientIP uses the TCP peer address; proxy headers are not trusted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) withBodyLimit(next http.HandlerFunc) http.HandlerFunc {
	limit := s.config.MaxRequestSize
	if limit <= 0 {
		limit = 1 << 20
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordRequest(route)
		s.metrics.RecordLatency(route, s.clock.Since(start))
		if rec.status >= http.StatusInternalServerError {
			logging.Warn("request failed", "route", route, "status", rec.status, logging.Component("api"))
		}
	}
}

type ctxKey struct{}

// callerFrom returns the wallet verified by withWallet.
func callerFrom(r *http.Request) common.Address {
	addr, _ := r.Context().Value(ctxKey{}).(common.Address)
	return addr
}

func (s *Server) withWallet(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := s.auth.VerifyInline(
			r.Header.Get(HeaderWalletAddress),
			r.Header.Get(HeaderWalletSignature),
			r.Header.Get(HeaderWalletMessage),
		)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Kind: "authentication"})
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, addr)
		next(w, r.WithContext(ctx))
	}
}

// withOwner rejects non-owners before the handler runs. The ledger checks
// ownership again inside its transaction.
func (s *Server) withOwner(next http.HandlerFunc) http.HandlerFunc {
	return s.withWallet(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		if caller != s.ledger.Owner() {
			logging.Audit(logging.AuditEvent{
				Operation: "admin_request",
				Actor:     caller.Hex(),
				Target:    r.URL.Path,
				Result:    "failure",
				Details:   "caller is not the owner",
			})
			writeJSON(w, http.StatusForbidden, ErrorResponse{
				Error: staking.ErrNotOwner.Error(),
				Kind:  staking.KindAuthorization.String(),
			})
			return
		}
		next(w, r)
	})
}

// ledgerEvents adapts the ledger's in-memory audit log.
type ledgerEvents struct{ svc *staking.Service }

func (l ledgerEvents) Events(from uint64, limit int) ([]staking.Event, error) {
	return l.svc.Events(from, limit), nil
}
