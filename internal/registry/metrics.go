package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the registry's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	evictions    *prometheus.CounterVec
	loaded       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "predictd",
				Subsystem: "model",
				Name:      "loads_total",
				Help:      "Model load attempts by result",
			},
			[]string{"model", "result"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "predictd",
				Subsystem: "model",
				Name:      "load_duration_seconds",
				Help:      "Duration of model loads in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"model"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "predictd",
				Subsystem: "model",
				Name:      "evictions_total",
				Help:      "Models unloaded because another model was requested",
			},
			[]string{"model"},
		),
		loaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "predictd",
				Subsystem: "model",
				Name:      "loaded",
				Help:      "1 when the model runtime is resident, else 0",
			},
			[]string{"model"},
		),
	}
	reg.MustRegister(m.loads, m.loadDuration, m.evictions, m.loaded)
	return m
}

func (m *Metrics) observeLoad(model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(model, result).Inc()
	m.loadDuration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) incEviction(model string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(model).Inc()
}

func (m *Metrics) setLoaded(model string, loaded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if loaded {
		v = 1
	}
	m.loaded.WithLabelValues(model).Set(v)
}
