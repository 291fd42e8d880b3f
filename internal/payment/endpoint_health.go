package payment

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultMaxConsecutiveErrors = 3
	defaultRecoveryInterval     = 30 * time.Second
	ewmaAlpha                   = 0.3                    // weight of a new latency sample
	defaultInitialLatency       = 100 * time.Millisecond // unmeasured endpoints
)

// EndpointHealth is the health state of one RPC endpoint.
type EndpointHealth struct {
	URL             string        `json:"url"`
	Latency         time.Duration `json:"latency"` // EWMA
	ConsecutiveErrs int           `json:"consecutive_errors"`
	LastSuccess     time.Time     `json:"last_success,omitempty"`
	LastError       time.Time     `json:"last_error,omitempty"`
	Healthy         bool          `json:"healthy"`
	samples         int
}

// EndpointTracker orders RPC endpoints for failover.
type EndpointTracker struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	endpoints []*EndpointHealth
	maxErrors int           // consecutive errors before marking unhealthy
	recovery  time.Duration // wait before probing an unhealthy endpoint again
}

// NewEndpointTracker creates a tracker from a list of URLs.
// All endpoints start healthy.
func NewEndpointTracker(urls []string, clock clockwork.Clock) *EndpointTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	endpoints := make([]*EndpointHealth, len(urls))
	for i, u := range urls {
		endpoints[i] = &EndpointHealth{
			URL:     u,
			Healthy: true,
			Latency: defaultInitialLatency,
		}
	}
	return &EndpointTracker{
		clock:     clock,
		endpoints: endpoints,
		maxErrors: defaultMaxConsecutiveErrors,
		recovery:  defaultRecoveryInterval,
	}
}

// RecordSuccess records a successful call to the endpoint.
func (et *EndpointTracker) RecordSuccess(url string, latency time.Duration) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}

	ep.ConsecutiveErrs = 0
	ep.LastSuccess = et.clock.Now()
	ep.Healthy = true

	if ep.samples == 0 {
		ep.Latency = latency
	} else {
		ep.Latency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(ep.Latency))
	}
	ep.samples++
}

// RecordError records a failed call to the endpoint.
func (et *EndpointTracker) RecordError(url string) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}

	ep.ConsecutiveErrs++
	ep.LastError = et.clock.Now()
	if ep.ConsecutiveErrs >= et.maxErrors {
		ep.Healthy = false
	}
}

// Ordered returns healthy endpoints by latency, then unhealthy endpoints
// whose recovery interval has passed.
func (et *EndpointTracker) Ordered() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.clock.Now()

	type candidate struct {
		url     string
		latency time.Duration
		probe   bool
	}

	var candidates []candidate
	for _, ep := range et.endpoints {
		switch {
		case ep.Healthy:
			candidates = append(candidates, candidate{url: ep.URL, latency: ep.Latency})
		case now.Sub(ep.LastError) >= et.recovery:
			candidates = append(candidates, candidate{url: ep.URL, latency: ep.Latency, probe: true})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].probe != candidates[j].probe {
			return !candidates[i].probe
		}
		return candidates[i].latency < candidates[j].latency
	})

	urls := make([]string, len(candidates))
	for i, c := range candidates {
		urls[i] = c.url
	}
	return urls
}

// Status returns a copy of every endpoint's state for health reporting.
func (et *EndpointTracker) Status() []EndpointHealth {
	et.mu.RLock()
	defer et.mu.RUnlock()

	out := make([]EndpointHealth, len(et.endpoints))
	for i, ep := range et.endpoints {
		out[i] = *ep
	}
	return out
}

// Len returns the total number of tracked endpoints.
func (et *EndpointTracker) Len() int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.endpoints)
}

// find returns the endpoint with the given URL. Callers hold et.mu.
func (et *EndpointTracker) find(url string) *EndpointHealth {
	for _, ep := range et.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
