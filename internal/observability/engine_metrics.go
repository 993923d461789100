package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes routing engine lifecycle and query metrics. It
// satisfies engine.Recorder.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	State          *prometheus.GaugeVec
	Restarts       prometheus.Counter
	Queries        *prometheus.CounterVec
	QueryDuration  prometheus.Histogram
	Pending        prometheus.Gauge
	LateResponses  prometheus.Counter
	ProtocolDesync prometheus.Counter

	mu        sync.Mutex
	lastState string
}

// NewEngineCollector registers engine metrics against the provided registerer.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_state",
		Help: "Routing engine lifecycle state; the current state's series is 1, all others 0.",
	}, []string{"state"}), "engine_state")
	if err != nil {
		return nil, err
	}
	restarts, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_restarts_total",
		Help: "Number of routing engine processes spawned after the first.",
	}), "engine_restarts_total")
	if err != nil {
		return nil, err
	}
	queries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_queries_total",
		Help: "Routing engine queries by outcome (ok, no_path, unavailable, timeout, overloaded).",
	}, []string{"outcome"}), "engine_queries_total")
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_query_duration_seconds",
		Help:    "Time from submission to resolution of routing engine queries.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}), "engine_query_duration_seconds")
	if err != nil {
		return nil, err
	}
	pending, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_pending_requests",
		Help: "Queries admitted by the engine and not yet resolved.",
	}), "engine_pending_requests")
	if err != nil {
		return nil, err
	}
	late, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_late_responses_total",
		Help: "Response lines consumed after their caller had already timed out.",
	}), "engine_late_responses_total")
	if err != nil {
		return nil, err
	}
	desync, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_protocol_desync_total",
		Help: "Response lines received with no pending request.",
	}), "engine_protocol_desync_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:       gatherer,
		State:          state,
		Restarts:       restarts,
		Queries:        queries,
		QueryDuration:  duration,
		Pending:        pending,
		LateResponses:  late,
		ProtocolDesync: desync,
	}, nil
}

// SetState marks state as current.
func (c *EngineCollector) SetState(state string) {
	if c == nil || c.State == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastState != "" && c.lastState != state {
		c.State.WithLabelValues(c.lastState).Set(0)
	}
	c.State.WithLabelValues(state).Set(1)
	c.lastState = state
}

// IncRestarts counts one respawn.
func (c *EngineCollector) IncRestarts() {
	if c == nil || c.Restarts == nil {
		return
	}
	c.Restarts.Inc()
}

// ObserveQuery records a resolved query.
func (c *EngineCollector) ObserveQuery(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Queries != nil {
		c.Queries.WithLabelValues(outcome).Inc()
	}
	if c.QueryDuration != nil {
		c.QueryDuration.Observe(d.Seconds())
	}
}

// SetPending updates the in-flight gauge.
func (c *EngineCollector) SetPending(n int) {
	if c == nil || c.Pending == nil {
		return
	}
	c.Pending.Set(float64(n))
}

// IncLateResponses counts a response consumed after its caller gave up.
func (c *EngineCollector) IncLateResponses() {
	if c == nil || c.LateResponses == nil {
		return
	}
	c.LateResponses.Inc()
}

// IncProtocolDesync counts a response line with no pending request.
func (c *EngineCollector) IncProtocolDesync() {
	if c == nil || c.ProtocolDesync == nil {
		return
	}
	c.ProtocolDesync.Inc()
}
