// Package metrics exposes collection counters and the latest readings to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"breaker-monitor/internal/datapoint"
	"breaker-monitor/internal/model"
)

const metricPrefix = "breaker_"

// Metrics owns its registry so tests and multiple instances never collide.
type Metrics struct {
	Registry *prometheus.Registry

	updates     *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec
	pollErrors  prometheus.Counter
	online      prometheus.Gauge
	reading     *prometheus.GaugeVec
	lastUpdate  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "updates_total",
			Help: "Snapshots produced, by source (poll, push).",
		}, []string{"source"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "decode_diagnostics_total",
			Help: "Data points that did not decode cleanly, by kind.",
		}, []string{"kind"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "sink_errors_total",
			Help: "Failed snapshot deliveries, by sink.",
		}, []string{"sink"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "poll_errors_total",
			Help: "Cloud API failures while polling.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "device_online",
			Help: "1 when the last snapshot came from an online device.",
		}),
		reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "reading",
			Help: "Latest value of each tracked field; absent until observed.",
		}, []string{"field"}),
		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_update_timestamp_seconds",
			Help: "Unix time of the latest snapshot.",
		}),
	}
	m.Registry.MustRegister(
		m.updates, m.diagnostics, m.sinkErrors, m.pollErrors, m.online, m.reading, m.lastUpdate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterRowCount exposes a stored-row gauge backed by count.
func (m *Metrics) RegisterRowCount(count func() float64) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: metricPrefix + "stored_rows",
		Help: "Rows in the device_data table.",
	}, count))
}

func (m *Metrics) ObserveUpdate(source string, snap model.Snapshot, recs []model.Record) {
	m.updates.WithLabelValues(source).Inc()
	for _, r := range recs {
		if r.Diagnostic != nil {
			m.diagnostics.WithLabelValues(datapoint.DiagnosticKind(r.Diagnostic)).Inc()
		}
	}
	if snap.Offline {
		m.online.Set(0)
	} else {
		m.online.Set(1)
	}
	if !snap.Timestamp.IsZero() {
		m.lastUpdate.Set(float64(snap.Timestamp.UnixNano()) / float64(time.Second))
	}

	sw := 0.0
	if snap.Switch == model.SwitchOn {
		sw = 1
	}
	if snap.Switch == model.SwitchOn || snap.Switch == model.SwitchOff {
		m.reading.WithLabelValues("switch").Set(sw)
	}
	for field, r := range map[string]model.Reading{
		"voltage":      snap.Voltage,
		"frequency":    snap.Frequency,
		"current":      snap.Current,
		"active_power": snap.ActivePower,
		"power_factor": snap.PowerFactor,
	} {
		if r.Valid {
			m.reading.WithLabelValues(field).Set(r.Value)
		} else {
			m.reading.DeleteLabelValues(field)
		}
	}
}

func (m *Metrics) ObservePollError(error) { m.pollErrors.Inc() }

func (m *Metrics) ObserveSinkError(sink string, _ error) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Name and Publish let the metrics act as a sink when no observer hook is wired.
func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Publish(_ context.Context, snap model.Snapshot, recs []model.Record) error {
	m.ObserveUpdate("sink", snap, recs)
	return nil
}
