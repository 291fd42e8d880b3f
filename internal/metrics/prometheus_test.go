package metrics

import (
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewPrometheusCollector(t *testing.T) {
	c := NewCollector()
	pc := NewPrometheusCollector(c)

	if pc.Collector() != c {
		t.Error("expected PrometheusCollector to wrap the given Collector")
	}
	if pc.Registry() == nil {
		t.Error("expected non-nil Prometheus registry")
	}
}

func TestPrometheusRecordRequest(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.RecordRequest("GET /v1/tiers")
	pc.RecordRequest("GET /v1/tiers")

	if got := pc.GetMetrics().RequestCounts["GET /v1/tiers"]; got != 2 {
		t.Errorf("expected custom collector count 2, got %d", got)
	}
	if got := testutil.ToFloat64(pc.requestCount.WithLabelValues("GET /v1/tiers")); got != 2 {
		t.Errorf("expected Prometheus counter 2, got %f", got)
	}
}

func TestPrometheusRecordLatency(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.RecordLatency("POST /v1/stakes", 10*time.Millisecond)
	pc.RecordLatency("POST /v1/stakes", 50*time.Millisecond)

	observer := pc.requestDuration.WithLabelValues("POST /v1/stakes")
	metric := &dto.Metric{}
	if err := observer.(prometheus.Metric).Write(metric); err != nil {
		t.Fatalf("failed to read prometheus metric: %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("expected 2 samples, got %d", got)
	}
}

func TestPrometheusObserveOperation(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	pc.ObserveOperation("unstake", nil, time.Millisecond)
	pc.ObserveOperation("unstake", &staking.Error{Kind: staking.KindState, Err: staking.ErrStakeLocked}, time.Millisecond)
	pc.ObserveOperation("unstake", &staking.Error{Kind: staking.KindState, Err: staking.ErrStakeLocked}, time.Millisecond)

	if got := testutil.ToFloat64(pc.operationCount.WithLabelValues("unstake", "ok")); got != 1 {
		t.Errorf("expected 1 ok unstake, got %f", got)
	}
	if got := testutil.ToFloat64(pc.operationCount.WithLabelValues("unstake", "state")); got != 2 {
		t.Errorf("expected 2 state rejections, got %f", got)
	}
	if got := testutil.CollectAndCount(pc.operationDuration); got != 1 {
		t.Errorf("expected 1 duration series, got %d", got)
	}
}

func TestPrometheusObserveState(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())

	oneAndHalf := new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	pc.ObserveState(&types.GlobalStats{
		TotalStaked:       oneAndHalf,
		TotalRewardsPaid:  big.NewInt(0),
		RewardPoolBalance: nil,
		TotalStakers:      3,
		PremiumUsers:      1,
		Paused:            true,
	})

	if got := testutil.ToFloat64(pc.totalStaked); got != 1.5 {
		t.Errorf("expected 1.5 tokens staked, got %f", got)
	}
	if got := testutil.ToFloat64(pc.rewardPoolBalance); got != 0 {
		t.Errorf("expected nil balance to read as 0, got %f", got)
	}
	if got := testutil.ToFloat64(pc.totalStakers); got != 3 {
		t.Errorf("expected 3 stakers, got %f", got)
	}
	if got := testutil.ToFloat64(pc.paused); got != 1 {
		t.Errorf("expected paused gauge 1, got %f", got)
	}
	if pc.GetMetrics().Ledger.TotalStakers != 3 {
		t.Error("expected custom collector to see the state too")
	}
}

func TestPrometheusStreamClients(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())
	pc.IncrementStreamClients()
	pc.IncrementStreamClients()
	pc.DecrementStreamClients()

	if got := testutil.ToFloat64(pc.streamClients); got != 1 {
		t.Errorf("expected 1 stream client, got %f", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	pc := NewPrometheusCollector(NewCollector())
	pc.RecordRequest("GET /health")
	pc.ObserveOperation("stake", nil, time.Millisecond)

	srv := httptest.NewServer(pc.PrometheusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		"tierstake_http_requests_total",
		`tierstake_ledger_operations_total{op="stake",result="ok"} 1`,
		"tierstake_goroutine_count",
		"tierstake_uptime_seconds",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in exposition output", want)
		}
	}
	if testutil.ToFloat64(pc.goroutineCount) <= 0 {
		t.Error("expected Sync to sample goroutines before the scrape")
	}
}

func TestPrometheusCollectorImplementsObserver(t *testing.T) {
	var _ staking.Observer = NewPrometheusCollector(NewCollector())
	var _ staking.Observer = NewCollector()
}
