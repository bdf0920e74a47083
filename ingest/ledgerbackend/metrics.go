package ledgerbackend

import "github.com/prometheus/client_golang/prometheus"

// metricsRegistry receives an observation for every MetaResult a channel
// sink forwards, along with the sink's current queue depth. It exists so
// delivery.go doesn't need a direct Prometheus dependency when no registry
// was configured.
type metricsRegistry interface {
	observe(res MetaResult, queueDepth int)
}

// promMetrics is the Prometheus-backed metricsRegistry, grounded in the
// teacher's own ingest/ledgerbackend.WithMetrics decorator: a gauge for
// current queue depth and a counter for emitted results split by outcome.
type promMetrics struct {
	queueDepth prometheus.Gauge
	emitted    *prometheus.CounterVec
}

// NewMetricsRegistry registers captive-core ingestion metrics on reg under
// namespace and returns a value that can be passed to WithMetrics. Passing
// nil to WithMetrics (the default) disables metrics entirely.
func NewMetricsRegistry(reg *prometheus.Registry, namespace string) metricsRegistry {
	m := &promMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "captive_core",
			Name:      "delivery_queue_depth",
			Help:      "Number of MetaResult values currently buffered in the delivery channel.",
		}),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "captive_core",
			Name:      "delivery_emitted_total",
			Help:      "Number of MetaResult values emitted by the delivery channel, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.queueDepth, m.emitted)
	return m
}

func (m *promMetrics) observe(res MetaResult, queueDepth int) {
	m.queueDepth.Set(float64(queueDepth))
	if res.Err != nil {
		m.emitted.WithLabelValues("err").Inc()
	} else {
		m.emitted.WithLabelValues("ok").Inc()
	}
}
