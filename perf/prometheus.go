package perf

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are the Prometheus instruments for batch operations. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	Batches       *prometheus.CounterVec
	ImageOps      *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
	ImageDuration *prometheus.HistogramVec
	InFlight      prometheus.Gauge
}

// NewCollectors creates the instruments and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepress",
			Name:      "batches_total",
			Help:      "Settled batch operations by kind and result (ok, partial, failed).",
		}, []string{"kind", "result"}),
		ImageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepress",
			Name:      "image_operations_total",
			Help:      "Per-image remote calls by kind and result (ok, failed, stale).",
		}, []string{"kind", "result"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagepress",
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch start until every call settled.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		ImageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagepress",
			Name:      "image_call_duration_seconds",
			Help:      "Duration of individual per-image remote calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imagepress",
			Name:      "image_calls_in_flight",
			Help:      "Per-image remote calls currently in flight.",
		}),
	}
	if reg == nil {
		return c, nil
	}

	var err error
	c.Batches = register(reg, c.Batches, &err)
	c.ImageOps = register(reg, c.ImageOps, &err)
	c.BatchDuration = register(reg, c.BatchDuration, &err)
	c.ImageDuration = register(reg, c.ImageDuration, &err)
	c.InFlight = register(reg, c.InFlight, &err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T, errp *error) T {
	if *errp != nil {
		return col
	}
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		*errp = err
	}
	return col
}

// ObserveBatch records one settled batch.
func (c *Collectors) ObserveBatch(kind string, succeeded, failed int, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	switch {
	case succeeded == 0 && failed > 0:
		result = "failed"
	case failed > 0:
		result = "partial"
	}
	c.Batches.WithLabelValues(kind, result).Inc()
	c.BatchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveImage records one per-image call outcome.
func (c *Collectors) ObserveImage(kind, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.ImageOps.WithLabelValues(kind, result).Inc()
	if d > 0 {
		c.ImageDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// CallStarted and CallFinished track the in-flight gauge.
func (c *Collectors) CallStarted() {
	if c != nil {
		c.InFlight.Inc()
	}
}

func (c *Collectors) CallFinished() {
	if c != nil {
		c.InFlight.Dec()
	}
}
