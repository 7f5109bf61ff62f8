package ledger

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxConsecutiveErrors = 3
	defaultRecoveryInterval     = 30 * time.Second
	ewmaAlpha                   = 0.3                    // weight of a new latency sample
	defaultInitialLatency       = 100 * time.Millisecond // unmeasured endpoints sort behind measured fast ones
)

// EndpointHealth is the health state of one RPC endpoint.
type EndpointHealth struct {
	URL             string
	Latency         time.Duration // EWMA
	ConsecutiveErrs int
	LastSuccess     time.Time
	LastError       time.Time
	Healthy         bool
	samples         int
}

// EndpointTracker ranks a set of RPC endpoints by health and latency.
type EndpointTracker struct {
	mu        sync.RWMutex
	endpoints []*EndpointHealth
	maxErrors int           // consecutive errors before marking unhealthy
	recovery  time.Duration // wait before probing an unhealthy endpoint again
	now       func() time.Time
}

// NewEndpointTracker creates a tracker from a list of URLs.
// All endpoints start healthy.
func NewEndpointTracker(urls []string) *EndpointTracker {
	endpoints := make([]*EndpointHealth, len(urls))
	for i, u := range urls {
		endpoints[i] = &EndpointHealth{
			URL:     u,
			Healthy: true,
			Latency: defaultInitialLatency,
		}
	}
	return &EndpointTracker{
		endpoints: endpoints,
		maxErrors: defaultMaxConsecutiveErrors,
		recovery:  defaultRecoveryInterval,
		now:       time.Now,
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
	ep.LastSuccess = et.now()
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
	ep.LastError = et.now()
	if ep.ConsecutiveErrs >= et.maxErrors {
		ep.Healthy = false
	}
}

// IsHealthy reports whether url is currently considered healthy.
func (et *EndpointTracker) IsHealthy(url string) bool {
	et.mu.RLock()
	defer et.mu.RUnlock()

	ep := et.find(url)
	return ep != nil && ep.Healthy
}

// GetHealthy returns healthy endpoint URLs sorted by latency (lowest first).
// Endpoints unhealthy for longer than the recovery interval are appended
// as recovery probes.
func (et *EndpointTracker) GetHealthy() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.now()

	type candidate struct {
		url     string
		latency time.Duration
		probe   bool
	}

	var candidates []candidate
	for _, ep := range et.endpoints {
		if ep.Healthy {
			candidates = append(candidates, candidate{url: ep.URL, latency: ep.Latency})
		} else if !ep.LastError.IsZero() && now.Sub(ep.LastError) >= et.recovery {
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

// GetNext returns the best endpoint other than exclude.
// Returns ("", false) if no alternative exists.
func (et *EndpointTracker) GetNext(exclude string) (string, bool) {
	for _, u := range et.GetHealthy() {
		if u != exclude {
			return u, true
		}
	}
	return "", false
}

// Snapshot returns a copy of every endpoint's state.
func (et *EndpointTracker) Snapshot() []EndpointHealth {
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

// find returns the endpoint with the given URL (must hold lock).
func (et *EndpointTracker) find(url string) *EndpointHealth {
	for _, ep := range et.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
