// Package telemetry registers and exposes the Prometheus metrics emitted
// across the PipeWatch pipeline, following the registry-construction and
// MustRegister style of CrlsMrls-dummybox's metrics package — but scoped to
// PipeWatch's own counters and histograms instead of generic HTTP metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/histogram PipeWatch components emit. A nil
// *Metrics is never passed around; New always returns a usable value, so
// callers do not need nil checks at call sites.
type Metrics struct {
	registry *prometheus.Registry

	ValidationFailures *prometheus.CounterVec
	RuleFires          *prometheus.CounterVec
	ModelScoreLatency  prometheus.Histogram
	ModelNotReady      prometheus.Counter
	AuditAppends       prometheus.Counter
	AuditIntegrityErrs prometheus.Counter
	FanoutDrops        *prometheus.CounterVec
	FanoutDelivered    *prometheus.CounterVec
	AlertsCreated      *prometheus.CounterVec
	NotifyFailures     *prometheus.CounterVec
	ActuatorFailures   *prometheus.CounterVec
}

// New constructs and registers the full metric set against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_validation_failures_total",
				Help: "Rejected RawSamples, by location and reason.",
			},
			[]string{"location", "reason"},
		),
		RuleFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_rule_fires_total",
				Help: "Rule engine firings, by rule name.",
			},
			[]string{"rule"},
		),
		ModelScoreLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipewatch_model_score_duration_seconds",
				Help:    "Isolation-forest scoring latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ModelNotReady: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipewatch_model_not_ready_total",
				Help: "Scoring attempts against an untrained model.",
			},
		),
		AuditAppends: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipewatch_audit_appends_total",
				Help: "Events appended to the audit chain.",
			},
		),
		AuditIntegrityErrs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipewatch_audit_integrity_errors_total",
				Help: "Audit chain verification failures observed.",
			},
		),
		FanoutDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_fanout_drops_total",
				Help: "Messages dropped because a subscriber's queue was full, by topic.",
			},
			[]string{"topic"},
		),
		FanoutDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_fanout_delivered_total",
				Help: "Messages delivered to subscribers, by topic.",
			},
			[]string{"topic"},
		),
		AlertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_alerts_created_total",
				Help: "Alerts created, by severity.",
			},
			[]string{"severity"},
		),
		NotifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_notify_failures_total",
				Help: "Notification delivery failures, by channel.",
			},
			[]string{"channel"},
		),
		ActuatorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipewatch_actuator_failures_total",
				Help: "Valve actuator call failures, by location.",
			},
			[]string{"location"},
		),
	}

	reg.MustRegister(
		m.ValidationFailures,
		m.RuleFires,
		m.ModelScoreLatency,
		m.ModelNotReady,
		m.AuditAppends,
		m.AuditIntegrityErrs,
		m.FanoutDrops,
		m.FanoutDelivered,
		m.AlertsCreated,
		m.NotifyFailures,
		m.ActuatorFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
