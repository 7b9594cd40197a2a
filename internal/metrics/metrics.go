// Package metrics exposes the dashboard state as Prometheus series.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
)

const namespace = "cauldronwatch"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	volume        *prometheus.GaugeVec
	fillRate      *prometheus.GaugeVec
	efficiency    prometheus.Gauge
	discrepancies *prometheus.GaugeVec
	ticks         *prometheus.CounterVec
	completions   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cauldron_volume_liters",
			Help:      "Current synthesized potion volume per cauldron.",
		}, []string{"cauldron"}),
		fillRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cauldron_fill_rate_lpm",
			Help:      "Current synthesized fill rate per cauldron in liters per minute.",
		}, []string{"cauldron"}),
		efficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_efficiency_percent",
			Help:      "Total volume over total capacity.",
		}),
		discrepancies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discrepancies",
			Help:      "Discrepancy events by severity and resolution.",
		}, []string{"severity", "resolved"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler job runs.",
		}, []string{"job"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion requests by kind and result.",
		}, []string{"kind", "result"}),
	}
	m.registry.MustRegister(m.volume, m.fillRate, m.efficiency, m.discrepancies, m.ticks, m.completions)
	return m
}

// ObserveReadings replaces the per-cauldron gauges with a new snapshot.
func (m *Metrics) ObserveReadings(readings []telemetry.Reading) {
	m.volume.Reset()
	m.fillRate.Reset()
	for _, r := range readings {
		m.volume.WithLabelValues(r.ID).Set(r.CurrentVolume)
		m.fillRate.WithLabelValues(r.ID).Set(r.FillRate)
	}
	m.efficiency.Set(float64(telemetry.Summarize(readings).EfficiencyPercent))
}

func (m *Metrics) ObserveDiscrepancies(ds []telemetry.Discrepancy) {
	m.discrepancies.Reset()
	for _, sev := range []telemetry.Severity{telemetry.SeverityLow, telemetry.SeverityMedium, telemetry.SeverityHigh} {
		for _, resolved := range []bool{false, true} {
			m.discrepancies.WithLabelValues(string(sev), strconv.FormatBool(resolved)).Set(0)
		}
	}
	for _, d := range ds {
		m.discrepancies.WithLabelValues(string(d.Severity), strconv.FormatBool(d.Resolved)).Inc()
	}
}

// ObserveTick matches the cron OnRun hook.
func (m *Metrics) ObserveTick(job string, _ error) {
	m.ticks.WithLabelValues(job).Inc()
}

// ObserveCompletion implements assistant.Recorder.
func (m *Metrics) ObserveCompletion(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.completions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
