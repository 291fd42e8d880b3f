package payment

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	rpc1 = "https://rpc1.example.com"
	rpc2 = "https://rpc2.example.com"
)

func TestEndpointTracker_NewTracker(t *testing.T) {
	et := NewEndpointTracker([]string{rpc1, rpc2}, nil)

	if et.Len() != 2 {
		t.Fatalf("expected 2 endpoints, got %d", et.Len())
	}
	if got := et.Ordered(); len(got) != 2 {
		t.Fatalf("expected 2 usable endpoints, got %d", len(got))
	}
}

func TestEndpointTracker_RecordSuccessUpdatesLatency(t *testing.T) {
	et := NewEndpointTracker([]string{rpc1}, nil)

	et.RecordSuccess(rpc1, 100*time.Millisecond)
	et.RecordSuccess(rpc1, 200*time.Millisecond)

	// first=100ms, second=0.3*200+0.7*100=130ms
	lat := et.Status()[0].Latency
	if lat < 120*time.Millisecond || lat > 140*time.Millisecond {
		t.Errorf("expected EWMA latency ~130ms, got %v", lat)
	}
}

func TestEndpointTracker_OrdersByLatency(t *testing.T) {
	et := NewEndpointTracker([]string{rpc1, rpc2}, nil)
	et.RecordSuccess(rpc1, 300*time.Millisecond)
	et.RecordSuccess(rpc2, 20*time.Millisecond)

	got := et.Ordered()
	if got[0] != rpc2 {
		t.Errorf("expected fastest endpoint first, got %v", got)
	}
}

func TestEndpointTracker_ErrorMarksUnhealthy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	et := NewEndpointTracker([]string{rpc1, rpc2}, clock)

	for i := 0; i < 3; i++ {
		et.RecordError(rpc1)
	}

	got := et.Ordered()
	if len(got) != 1 || got[0] != rpc2 {
		t.Fatalf("expected only rpc2 usable, got %v", got)
	}

	// after the recovery interval rpc1 comes back as a probe at the end
	clock.Advance(defaultRecoveryInterval)
	got = et.Ordered()
	if len(got) != 2 || got[1] != rpc1 {
		t.Fatalf("expected rpc1 as trailing probe, got %v", got)
	}

	et.RecordSuccess(rpc1, time.Millisecond)
	if !et.Status()[0].Healthy {
		t.Error("expected success to restore health")
	}
}

func TestEndpointTracker_UnknownURLIgnored(t *testing.T) {
	et := NewEndpointTracker([]string{rpc1}, nil)
	et.RecordError("https://other")
	et.RecordSuccess("https://other", time.Second)
	if et.Status()[0].ConsecutiveErrs != 0 {
		t.Error("unknown URL should not affect tracked endpoints")
	}
}
