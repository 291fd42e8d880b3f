package metrics

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.requestCounts == nil || c.latencies == nil || c.operations == nil {
		t.Error("expected initialized maps")
	}
	if c.startTime.IsZero() {
		t.Error("expected non-zero start time")
	}
}

func TestRecordRequest(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("GET /v1/tiers")
	c.RecordRequest("GET /v1/tiers")
	c.RecordRequest("POST /v1/stakes")

	m := c.GetMetrics()
	if m.RequestCounts["GET /v1/tiers"] != 2 {
		t.Errorf("expected 2 tier requests, got %d", m.RequestCounts["GET /v1/tiers"])
	}
	if m.RequestCounts["POST /v1/stakes"] != 1 {
		t.Errorf("expected 1 stake request, got %d", m.RequestCounts["POST /v1/stakes"])
	}
}

func TestRecordRequestConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest("GET /health")
		}()
	}
	wg.Wait()

	if got := c.GetMetrics().RequestCounts["GET /health"]; got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestLatencyHistogramBuckets(t *testing.T) {
	tests := []struct {
		d      time.Duration
		bucket string
	}{
		{500 * time.Microsecond, "0-1ms"},
		{3 * time.Millisecond, "1-5ms"},
		{75 * time.Millisecond, "50-100ms"},
		{2 * time.Second, "1000ms+"},
	}
	for _, tt := range tests {
		c := NewCollector()
		c.RecordLatency("r", tt.d)
		stats := c.GetMetrics().RequestLatencies["r"]
		if stats.Buckets[tt.bucket] != 1 {
			t.Errorf("%v: expected bucket %s, got %v", tt.d, tt.bucket, stats.Buckets)
		}
	}
}

func TestObserveOperation(t *testing.T) {
	c := NewCollector()

	c.ObserveOperation("stake", nil, time.Millisecond)
	c.ObserveOperation("stake", nil, time.Millisecond)
	c.ObserveOperation("stake", &staking.Error{Kind: staking.KindCapacity, Err: staking.ErrTierCapacity}, time.Millisecond)
	c.ObserveOperation("claim", fmt.Errorf("wrapped: %w", &staking.Error{Kind: staking.KindState, Err: staking.ErrCooldownActive}), 0)

	m := c.GetMetrics()
	if m.Operations["stake"][ResultOK] != 2 {
		t.Errorf("expected 2 ok stakes, got %d", m.Operations["stake"][ResultOK])
	}
	if m.Operations["stake"]["capacity"] != 1 {
		t.Errorf("expected 1 capacity rejection, got %v", m.Operations["stake"])
	}
	if m.Operations["claim"]["state"] != 1 {
		t.Errorf("expected wrapped error kind to be unwrapped, got %v", m.Operations["claim"])
	}
	if m.RequestLatencies["ledger.stake"].Count != 3 {
		t.Errorf("expected 3 stake latencies, got %d", m.RequestLatencies["ledger.stake"].Count)
	}
}

func TestObserveState(t *testing.T) {
	c := NewCollector()
	if c.GetMetrics().Ledger != nil {
		t.Error("expected no ledger gauges before the first observation")
	}

	c.ObserveState(&types.GlobalStats{
		TotalStaked:       big.NewInt(15000),
		TotalRewardsPaid:  big.NewInt(98),
		RewardPoolBalance: big.NewInt(1000),
		TotalStakers:      2,
		Paused:            true,
	})

	g := c.GetMetrics().Ledger
	if g == nil {
		t.Fatal("expected ledger gauges")
	}
	if g.TotalStaked.String() != "15000" || g.TotalStakers != 2 || !g.Paused {
		t.Errorf("unexpected gauges: %+v", g)
	}
}

func TestStreamClients(t *testing.T) {
	c := NewCollector()
	c.IncrementStreamClients()
	c.IncrementStreamClients()
	c.DecrementStreamClients()
	if got := c.GetMetrics().StreamClients; got != 1 {
		t.Errorf("expected 1 stream client, got %d", got)
	}
}

func TestGetMetricsJSON(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("GET /v1/stats")
	c.ObserveState(&types.GlobalStats{TotalStaked: big.NewInt(7)})

	data, err := c.GetMetricsJSON()
	if err != nil {
		t.Fatalf("GetMetricsJSON() error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, key := range []string{"uptime", "request_counts", "operations", "ledger"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("expected key %q in JSON", key)
		}
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("x")
	c.RecordLatency("x", time.Millisecond)
	c.ObserveOperation("stake", nil, 0)
	c.ObserveState(&types.GlobalStats{})
	c.IncrementStreamClients()

	c.Reset()

	m := c.GetMetrics()
	if len(m.RequestCounts) != 0 || len(m.RequestLatencies) != 0 || len(m.Operations) != 0 {
		t.Error("expected empty maps after Reset")
	}
	if m.Ledger != nil || m.StreamClients != 0 {
		t.Error("expected gauges cleared after Reset")
	}
}
