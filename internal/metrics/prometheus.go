package metrics

import (
	"math/big"
	"net/http"
	"runtime"
	"time"

	"github.com/moltbunker/tierstake/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tierstake"

// PrometheusCollector wraps the existing Collector and mirrors its metrics
// into Prometheus format. Both the JSON output and the Prometheus
// exposition format are served. It implements staking.Observer.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	operationCount    *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	totalStaked       prometheus.Gauge
	totalRewardsPaid  prometheus.Gauge
	rewardPoolBalance prometheus.Gauge
	totalStakers      prometheus.Gauge
	premiumUsers      prometheus.Gauge
	paused            prometheus.Gauge

	streamClients  prometheus.Gauge
	goroutineCount prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	startTime time.Time
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// NewPrometheusCollector creates a PrometheusCollector that wraps an existing
// Collector. Prometheus metrics are registered in a dedicated registry so they
// do not interfere with the default global registry.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	p := &PrometheusCollector{
		collector: c,
		registry:  reg,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests by route.",
		}, []string{"route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency histogram by route.",
			Buckets:   latencyBuckets,
		}, []string{"route"}),
		operationCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by name and result (ok or error kind).",
		}, []string{"op", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation latency including token transfers.",
			Buckets:   latencyBuckets,
		}, []string{"op"}),
		startTime: time.Now(),
	}
	reg.MustRegister(p.requestCount, p.requestDuration, p.operationCount, p.operationDuration)

	p.totalStaked = gauge("total_staked_tokens", "Principal held in active stakes, in whole tokens.")
	p.totalRewardsPaid = gauge("total_rewards_paid_tokens", "Rewards paid or compounded since genesis, in whole tokens.")
	p.rewardPoolBalance = gauge("reward_pool_balance_tokens", "Tokens held for rewards, in whole tokens.")
	p.totalStakers = gauge("stakers", "Users with at least one active stake.")
	p.premiumUsers = gauge("premium_users", "Users on the premium roster.")
	p.paused = gauge("paused", "1 when user operations are paused.")
	p.streamClients = gauge("stream_clients", "Connected live event stream clients.")
	p.goroutineCount = gauge("goroutine_count", "Number of goroutines.")
	p.uptimeSeconds = gauge("uptime_seconds", "Time since the daemon started in seconds.")

	return p
}

// Registry returns the Prometheus registry used by this collector.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// RecordRequest records a request in both the custom Collector and
// the Prometheus counter.
func (p *PrometheusCollector) RecordRequest(route string) {
	p.collector.RecordRequest(route)
	p.requestCount.WithLabelValues(route).Inc()
}

// RecordLatency records latency in both the custom Collector and
// the Prometheus histogram.
func (p *PrometheusCollector) RecordLatency(route string, duration time.Duration) {
	p.collector.RecordLatency(route, duration)
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveOperation records a ledger outcome in both collectors.
func (p *PrometheusCollector) ObserveOperation(op string, err error, elapsed time.Duration) {
	p.collector.ObserveOperation(op, err, elapsed)
	p.operationCount.WithLabelValues(op, OperationResult(err)).Inc()
	p.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveState updates the ledger gauges in both collectors.
func (p *PrometheusCollector) ObserveState(stats *types.GlobalStats) {
	p.collector.ObserveState(stats)
	p.totalStaked.Set(tokens(stats.TotalStaked))
	p.totalRewardsPaid.Set(tokens(stats.TotalRewardsPaid))
	p.rewardPoolBalance.Set(tokens(stats.RewardPoolBalance))
	p.totalStakers.Set(float64(stats.TotalStakers))
	p.premiumUsers.Set(float64(stats.PremiumUsers))
	if stats.Paused {
		p.paused.Set(1)
	} else {
		p.paused.Set(0)
	}
}

// IncrementStreamClients increments stream clients in both collectors.
func (p *PrometheusCollector) IncrementStreamClients() {
	p.collector.IncrementStreamClients()
	p.streamClients.Inc()
}

// DecrementStreamClients decrements stream clients in both collectors.
func (p *PrometheusCollector) DecrementStreamClients() {
	p.collector.DecrementStreamClients()
	p.streamClients.Dec()
}

// UpdateGoroutineCount updates the goroutine count in both collectors.
func (p *PrometheusCollector) UpdateGoroutineCount() {
	p.collector.UpdateGoroutineCount()
	p.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Sync refreshes the sampled gauges. Call before serving metrics.
func (p *PrometheusCollector) Sync() {
	p.UpdateGoroutineCount()
	p.uptimeSeconds.Set(time.Since(p.startTime).Seconds())
}

// GetMetrics returns the JSON metrics from the underlying Collector.
func (p *PrometheusCollector) GetMetrics() *Metrics {
	return p.collector.GetMetrics()
}

// GetMetricsJSON returns JSON-encoded metrics from the underlying Collector.
func (p *PrometheusCollector) GetMetricsJSON() ([]byte, error) {
	return p.collector.GetMetricsJSON()
}

// Collector returns the underlying custom Collector.
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

// PrometheusHandler returns an http.Handler that serves metrics in the
// Prometheus text exposition format, syncing sampled gauges before each
// scrape.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	inner := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Sync()
		inner.ServeHTTP(w, r)
	})
}

var tokenUnit = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(types.TokenDecimals), nil))

// tokens converts base units to whole tokens. Gauges only.
func tokens(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), tokenUnit).Float64()
	return f
}
