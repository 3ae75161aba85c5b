package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the republishing engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	monitorCycles     *prometheus.CounterVec
	reconcileFailures prometheus.Counter
	configPushes      *prometheus.CounterVec
	reloads           *prometheus.CounterVec
	ruleRegistrations *prometheus.CounterVec
	liveStreams       prometheus.Gauge
	republishRules    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		monitorCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restream_monitor_cycles_total",
			Help: "Monitor poll cycles by outcome (ok, no_data)",
		}, []string{"outcome"}),
		reconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restream_reconcile_failures_total",
			Help: "Per-stream reconciliation failures",
		}),
		configPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restream_config_pushes_total",
			Help: "Configuration pushes by write outcome",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restream_reloads_total",
			Help: "Reload attempts by winning method, or none",
		}, []string{"method"}),
		ruleRegistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restream_rule_registrations_total",
			Help: "Direct republish rule registrations by outcome",
		}, []string{"outcome"}),
		liveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restream_live_streams",
			Help: "Streams reported by the media server in the last cycle",
		}),
		republishRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restream_republish_rules",
			Help: "Rules in the last synthesized configuration",
		}),
	}

	registry.MustRegister(
		m.monitorCycles,
		m.reconcileFailures,
		m.configPushes,
		m.reloads,
		m.ruleRegistrations,
		m.liveStreams,
		m.republishRules,
		collectors.NewGoCollector(),
	)

	return m
}

func (m *Metrics) ObserveCycle(hadData bool, streams int) {
	if m == nil {
		return
	}
	if !hadData {
		m.monitorCycles.WithLabelValues("no_data").Inc()
		return
	}
	m.monitorCycles.WithLabelValues("ok").Inc()
	m.liveStreams.Set(float64(streams))
}

func (m *Metrics) IncReconcileFailures() {
	if m == nil {
		return
	}
	m.reconcileFailures.Inc()
}

func (m *Metrics) ObservePush(written bool, rules int) {
	if m == nil {
		return
	}
	outcome := "written"
	if !written {
		outcome = "failed"
	}
	m.configPushes.WithLabelValues(outcome).Inc()
	m.republishRules.Set(float64(rules))
}

func (m *Metrics) ObserveReload(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	m.reloads.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveRuleRegistration(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.ruleRegistrations.WithLabelValues(outcome).Inc()
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
