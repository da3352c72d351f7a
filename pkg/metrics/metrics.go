// Package metrics holds the Prometheus instrumentation of the entitlement service.
//
// A nil *Metrics is valid and records nothing, so packages can take it as an
// optional dependency.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "smartml"
	maxLabelLen = 64
)

// Metrics groups the collectors of the service.
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	decisionLatency *prometheus.HistogramVec
	releases        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "decisions_total",
				Help:      "Entitlement decisions by resource, outcome and reason",
			},
			[]string{"resource", "allowed", "reason"},
		),
		decisionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "decision_duration_seconds",
				Help:      "Latency of CheckAndConsume including persistence",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"resource"},
		),
		releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "releases_total",
				Help:      "Released consumptions by resource and whether the release applied",
			},
			[]string{"resource", "applied"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "transitions_total",
				Help:      "Subscription lifecycle transitions by event and target status",
			},
			[]string{"event", "from", "to"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "webhooks_total",
				Help:      "Inbound billing webhooks by provider, event type and result",
			},
			[]string{"provider", "type", "result"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscription",
				Name:      "swept_total",
				Help:      "Subscriptions evaluated by the sweeper, by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.decisionLatency,
		m.releases,
		m.transitions,
		m.webhooks,
		m.sweeps,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Decision records one entitlement decision. Reason is empty for allowed decisions.
func (m *Metrics) Decision(resource string, allowed bool, reason string, took time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(sanitizeLabel(resource), boolLabel(allowed), sanitizeLabel(reason)).Inc()
	m.decisionLatency.WithLabelValues(sanitizeLabel(resource)).Observe(took.Seconds())
}

// Release records a release attempt.
func (m *Metrics) Release(resource string, applied bool) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(sanitizeLabel(resource), boolLabel(applied)).Inc()
}

// Transition records a subscription status change.
func (m *Metrics) Transition(event, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(sanitizeLabel(event), sanitizeLabel(from), sanitizeLabel(to)).Inc()
}

// Webhook records the outcome of an inbound billing webhook.
func (m *Metrics) Webhook(provider, eventType, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(eventType), sanitizeLabel(result)).Inc()
}

// Swept records a subscription evaluated by a sweep.
func (m *Metrics) Swept(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(sanitizeLabel(result)).Inc()
}

// sanitizeLabel keeps label values bounded and non-empty.
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
