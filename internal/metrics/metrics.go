package metrics

import (
	"encoding/json"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
)

// Result label for operations that committed
const ResultOK = "ok"

// Collector collects and aggregates metrics for the daemon. It implements
// staking.Observer.
type Collector struct {
	// Request counts by route
	requestCounts   map[string]*uint64
	requestCountsMu sync.RWMutex

	// Request latencies by route
	latencies   map[string]*LatencyHistogram
	latenciesMu sync.RWMutex

	// Ledger operation outcomes keyed by op then result
	operations   map[string]map[string]uint64
	operationsMu sync.RWMutex

	// Latest ledger totals
	ledger   *types.GlobalStats
	ledgerMu sync.RWMutex

	// Live event stream subscribers
	streamClients int64

	goroutineCount int64

	startTime time.Time
}

// LatencyHistogram tracks request latencies in buckets
type LatencyHistogram struct {
	// Buckets: [0-1ms], [1-5ms], [5-10ms], [10-25ms], [25-50ms], [50-100ms], [100-250ms], [250-500ms], [500-1000ms], [1000ms+]
	buckets [10]uint64
	sum     uint64 // Total latency in nanoseconds
	count   uint64
	mu      sync.Mutex
}

// bucket boundaries in milliseconds
var bucketBoundaries = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = []string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestCounts: make(map[string]*uint64),
		latencies:     make(map[string]*LatencyHistogram),
		operations:    make(map[string]map[string]uint64),
		startTime:     time.Now(),
	}
}

// RecordRequest records a request for the given route
func (c *Collector) RecordRequest(route string) {
	c.requestCountsMu.Lock()
	counter, exists := c.requestCounts[route]
	if !exists {
		var val uint64
		counter = &val
		c.requestCounts[route] = counter
	}
	c.requestCountsMu.Unlock()

	atomic.AddUint64(counter, 1)
}

// RecordLatency records the latency for a request
func (c *Collector) RecordLatency(route string, duration time.Duration) {
	c.latenciesMu.Lock()
	hist, exists := c.latencies[route]
	if !exists {
		hist = &LatencyHistogram{}
		c.latencies[route] = hist
	}
	c.latenciesMu.Unlock()

	hist.Record(duration)
}

// Record records a latency value in the histogram
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := d.Milliseconds()

	bucketIdx := len(bucketBoundaries) // overflow
	for i, boundary := range bucketBoundaries {
		if ms < boundary {
			bucketIdx = i
			break
		}
	}

	h.buckets[bucketIdx]++
	h.sum += uint64(d.Nanoseconds())
	h.count++
}

// OperationResult maps a ledger outcome to its label: "ok" or the error kind.
func OperationResult(err error) string {
	if err == nil {
		return ResultOK
	}
	return staking.KindOf(err).String()
}

// ObserveOperation counts a ledger operation by outcome
func (c *Collector) ObserveOperation(op string, err error, elapsed time.Duration) {
	result := OperationResult(err)

	c.operationsMu.Lock()
	byResult, ok := c.operations[op]
	if !ok {
		byResult = make(map[string]uint64)
		c.operations[op] = byResult
	}
	byResult[result]++
	c.operationsMu.Unlock()

	c.RecordLatency("ledger."+op, elapsed)
}

// ObserveState keeps the latest ledger totals
func (c *Collector) ObserveState(stats *types.GlobalStats) {
	c.ledgerMu.Lock()
	c.ledger = stats
	c.ledgerMu.Unlock()
}

// IncrementStreamClients increments the live stream subscriber count
func (c *Collector) IncrementStreamClients() {
	atomic.AddInt64(&c.streamClients, 1)
}

// DecrementStreamClients decrements the live stream subscriber count
func (c *Collector) DecrementStreamClients() {
	atomic.AddInt64(&c.streamClients, -1)
}

// UpdateGoroutineCount samples the current goroutine count
func (c *Collector) UpdateGoroutineCount() {
	atomic.StoreInt64(&c.goroutineCount, int64(runtime.NumGoroutine()))
}

// Metrics represents the current state of all metrics
type Metrics struct {
	Uptime           string                       `json:"uptime"`
	UptimeSeconds    float64                      `json:"uptime_seconds"`
	RequestCounts    map[string]uint64            `json:"request_counts"`
	RequestLatencies map[string]LatencyStats      `json:"request_latencies"`
	Operations       map[string]map[string]uint64 `json:"operations"`
	Ledger           *LedgerGauges                `json:"ledger,omitempty"`
	StreamClients    int64                        `json:"stream_clients"`
	GoroutineCount   int64                        `json:"goroutine_count"`
	CollectedAt      time.Time                    `json:"collected_at"`
}

// LedgerGauges are the ledger totals in base units
type LedgerGauges struct {
	TotalStaked       *big.Int `json:"total_staked"`
	TotalRewardsPaid  *big.Int `json:"total_rewards_paid"`
	RewardPoolBalance *big.Int `json:"reward_pool_balance"`
	TotalStakers      uint64   `json:"total_stakers"`
	PremiumUsers      int      `json:"premium_users"`
	Paused            bool     `json:"paused"`
}

// LatencyStats contains latency statistics for a route
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics returns the current metrics as a Metrics struct
func (c *Collector) GetMetrics() *Metrics {
	uptime := time.Since(c.startTime)

	requestCounts := make(map[string]uint64)
	c.requestCountsMu.RLock()
	for route, counter := range c.requestCounts {
		requestCounts[route] = atomic.LoadUint64(counter)
	}
	c.requestCountsMu.RUnlock()

	latencies := make(map[string]LatencyStats)
	c.latenciesMu.RLock()
	for route, hist := range c.latencies {
		hist.mu.Lock()
		stats := LatencyStats{
			Count:   hist.count,
			SumMs:   float64(hist.sum) / float64(time.Millisecond),
			Buckets: make(map[string]uint64),
		}
		if hist.count > 0 {
			stats.AvgMs = float64(hist.sum) / float64(hist.count) / float64(time.Millisecond)
		}
		for i, count := range hist.buckets {
			if count > 0 {
				stats.Buckets[bucketLabels[i]] = count
			}
		}
		hist.mu.Unlock()
		latencies[route] = stats
	}
	c.latenciesMu.RUnlock()

	operations := make(map[string]map[string]uint64)
	c.operationsMu.RLock()
	for op, byResult := range c.operations {
		cp := make(map[string]uint64, len(byResult))
		for k, v := range byResult {
			cp[k] = v
		}
		operations[op] = cp
	}
	c.operationsMu.RUnlock()

	return &Metrics{
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		RequestCounts:    requestCounts,
		RequestLatencies: latencies,
		Operations:       operations,
		Ledger:           c.ledgerGauges(),
		StreamClients:    atomic.LoadInt64(&c.streamClients),
		GoroutineCount:   atomic.LoadInt64(&c.goroutineCount),
		CollectedAt:      time.Now(),
	}
}

func (c *Collector) ledgerGauges() *LedgerGauges {
	c.ledgerMu.RLock()
	defer c.ledgerMu.RUnlock()
	if c.ledger == nil {
		return nil
	}
	return &LedgerGauges{
		TotalStaked:       c.ledger.TotalStaked,
		TotalRewardsPaid:  c.ledger.TotalRewardsPaid,
		RewardPoolBalance: c.ledger.RewardPoolBalance,
		TotalStakers:      c.ledger.TotalStakers,
		PremiumUsers:      c.ledger.PremiumUsers,
		Paused:            c.ledger.Paused,
	}
}

// GetMetricsJSON returns the current metrics as JSON
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}

// Reset resets all metrics (useful for testing)
func (c *Collector) Reset() {
	c.requestCountsMu.Lock()
	c.requestCounts = make(map[string]*uint64)
	c.requestCountsMu.Unlock()

	c.latenciesMu.Lock()
	c.latencies = make(map[string]*LatencyHistogram)
	c.latenciesMu.Unlock()

	c.operationsMu.Lock()
	c.operations = make(map[string]map[string]uint64)
	c.operationsMu.Unlock()

	c.ledgerMu.Lock()
	c.ledger = nil
	c.ledgerMu.Unlock()

	atomic.StoreInt64(&c.streamClients, 0)
	atomic.StoreInt64(&c.goroutineCount, 0)
	c.startTime = time.Now()
}
