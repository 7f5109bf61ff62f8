// Package metrics exposes staking client activity in Prometheus format.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crowdstake"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Collector records ledger reads, submissions and pool events. Metrics are
// registered in a dedicated registry so they do not interfere with the
// default global registry. All methods are no-ops on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	fetchTotal     *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	submissions    *prometheus.CounterVec
	staleRetries   prometheus.Counter
	claimedRewards prometheus.Counter
	poolEvents     *prometheus.CounterVec
	uptimeSeconds  prometheus.GaugeFunc
	startTime      time.Time
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	start := time.Now()

	c := &Collector{
		registry:  reg,
		startTime: start,
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_fetch_total",
			Help:      "Ledger account fetches by account kind and result.",
		}, []string{"account", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_fetch_duration_seconds",
			Help:      "Ledger account fetch latency by account kind.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"account"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submitted stake, unstake and claim requests by result.",
		}, []string{"op", "result"}),
		staleRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_retries_total",
			Help:      "Claims resubmitted after the ledger rejected a stale snapshot.",
		}),
		claimedRewards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claimed_rewards_total",
			Help:      "Rewards claimed, in smallest token units.",
		}),
		poolEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_events_total",
			Help:      "Pool events observed by kind.",
		}, []string{"kind"}),
	}
	c.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the process started in seconds.",
	}, func() float64 { return time.Since(start).Seconds() })

	reg.MustRegister(
		c.fetchTotal,
		c.fetchDuration,
		c.submissions,
		c.staleRetries,
		c.claimedRewards,
		c.poolEvents,
		c.uptimeSeconds,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordFetch records one ledger account read.
func (c *Collector) RecordFetch(account string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.fetchTotal.WithLabelValues(account, result(err)).Inc()
	c.fetchDuration.WithLabelValues(account).Observe(d.Seconds())
}

// RecordSubmission records one submitted request.
func (c *Collector) RecordSubmission(op string, err error) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(op, result(err)).Inc()
}

// RecordStaleRetry counts a resubmission after a staleness rejection.
func (c *Collector) RecordStaleRetry() {
	if c == nil {
		return
	}
	c.staleRetries.Inc()
}

// AddClaimedRewards adds a confirmed claim amount. Float precision loss on
// very large amounts is acceptable for monitoring.
func (c *Collector) AddClaimedRewards(amount *big.Int) {
	if c == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	c.claimedRewards.Add(f)
}

// RecordPoolEvent counts an observed pool event.
func (c *Collector) RecordPoolEvent(kind string) {
	if c == nil {
		return
	}
	c.poolEvents.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
