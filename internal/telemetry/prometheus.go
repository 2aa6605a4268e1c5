package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ActionPerformanceMeasure is the action name used for derived measures.
const ActionPerformanceMeasure = "PerformanceMeasure"

// Prometheus exposes sink traffic as Prometheus collectors.
type Prometheus struct {
	durations  *prometheus.HistogramVec
	actions    *prometheus.CounterVec
	attributes *prometheus.GaugeVec
	errors     *prometheus.CounterVec
}

// NewPrometheus builds the collectors and registers them on reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "perf",
				Name:      "measure_duration_seconds",
				Help:      "Duration of derived performance measures.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"app", "measure_type"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "actions_total",
				Help:      "Total number of recorded actions.",
			},
			[]string{"action"},
		),
		attributes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "attribute",
				Help:      "Last value of each numeric custom attribute.",
			},
			[]string{"name"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telemetry",
				Name:      "errors_total",
				Help:      "Total number of reported errors.",
			},
			[]string{"source"},
		),
	}

	for _, c := range []prometheus.Collector{p.durations, p.actions, p.attributes, p.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordAction(name string, attrs map[string]any) error {
	p.actions.WithLabelValues(name).Inc()
	if name != ActionPerformanceMeasure {
		return nil
	}
	ms, ok := toFloat(attrs["duration"])
	if !ok {
		return nil
	}
	p.durations.
		WithLabelValues(stringAttr(attrs, "appName", "unknown"), stringAttr(attrs, "measureType", "unknown")).
		Observe(ms / 1000)
	return nil
}

// gaugeAttributes are the attributes kept as gauges. Per-measure
// attributes carry component and interaction names in their label, so they
// are left to the duration histogram.
var gaugeAttributes = map[string]bool{
	"perf_CTLT":        true,
	"perf_CDLT":        true,
	"perf_PTLT":        true,
	"perf_CALT":        true,
	"perf_TLT":         true,
	"perf_interaction": true,
}

// SetAttribute records the numeric per-type attributes; other names and
// values are ignored.
func (p *Prometheus) SetAttribute(name string, value any) error {
	if !gaugeAttributes[name] {
		return nil
	}
	if f, ok := toFloat(value); ok {
		p.attributes.WithLabelValues(name).Set(f)
	}
	return nil
}

func (p *Prometheus) ReportError(_ error, attrs map[string]any) error {
	p.errors.WithLabelValues(stringAttr(attrs, "source", "unknown")).Inc()
	return nil
}
