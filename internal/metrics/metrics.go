// Package metrics holds the Prometheus collectors of a client.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kephasgate"

// Metrics records gateway, pipeline, rate limiter and REST activity.
type Metrics struct {
	frames     *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	state      *prometheus.GaugeVec
	events     *prometheus.CounterVec
	failures   prometheus.Counter
	dropped    prometheus.Counter
	waits      *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg returns nil, which records nothing.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frames_total",
			Help:      "Total number of gateway frames received",
		}, []string{"shard", "op"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total number of gateway reconnects",
		}, []string{"shard"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "state",
			Help:      "Current session state of each shard",
		}, []string{"shard"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Total number of dispatch events processed",
		}, []string{"kind"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Total number of dispatch events that failed processing",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dropped_total",
			Help:      "Total number of domain events dropped by a full sink",
		}),
		waits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "waits_total",
			Help:      "Total number of acquisitions that had to wait",
		}, []string{"bucket"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "Total number of REST requests by route and status",
		}, []string{"route", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.frames, m.reconnects, m.state, m.events,
		m.failures, m.dropped, m.waits, m.requests,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Frame counts an inbound gateway frame.
func (m *Metrics) Frame(shard int, op string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(strconv.Itoa(shard), op).Inc()
}

// Reconnect counts a reconnect of shard.
func (m *Metrics) Reconnect(shard int) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(strconv.Itoa(shard)).Inc()
}

// State sets the current state of shard.
func (m *Metrics) State(shard int, state int) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(strconv.Itoa(shard)).Set(float64(state))
}

// Event counts a processed dispatch event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Failure counts a dispatch event that failed processing.
func (m *Metrics) Failure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

// Dropped counts a domain event dropped by a full sink.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// Wait counts an acquisition of bucket that had to wait.
func (m *Metrics) Wait(bucket string) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(bucket).Inc()
}

// Request counts a REST request.
func (m *Metrics) Request(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
