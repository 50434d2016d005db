package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline-related Prometheus metrics. These are defined in a standalone
// package to avoid import cycles between the consumer and HTTP packages.

var (
	OperationsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opstream_operations_processed_total",
		Help: "Operaciones aplicadas al store, por operación y resultado",
	}, []string{"operation", "outcome"})

	EnvelopesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opstream_envelopes_dropped_total",
		Help: "Envelopes descartados por validación (nunca reintentados)",
	})

	PollLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "opstream_shard_poll_latency_ms",
		Help:    "Latencia del poll de un shard del log en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	ShardLoopsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opstream_shard_loops_active",
		Help: "Loops de polling activos (uno por shard del log)",
	})

	NotifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opstream_notify_failures_total",
		Help: "Notificaciones al hub que fallaron (best-effort, se tragan)",
	})

	CursorReacquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opstream_cursor_reacquired_total",
		Help: "Cursores re-adquiridos tras un error de poll/proceso",
	})
)

// RegisterPipeline registers the pipeline metrics on the given registry
// (or default if nil).
func RegisterPipeline(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		OperationsProcessed,
		EnvelopesDropped,
		PollLatency,
		ShardLoopsActive,
		NotifyFailures,
		CursorReacquired,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
