// Package metrics exports ingestion counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"bitwise74/reactions-api/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reactions"

// Metrics is safe to use as a nil pointer, every method is then a no-op.
type Metrics struct {
	ingests       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	uploadedBytes prometheus.Counter
	orphaned      prometheus.Counter
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ingests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingests_total",
		Help:      "Finished ingestions by entry point and outcome.",
	}, []string{"entry", "outcome"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Time from receiving a file to linking it.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"entry"}))
	if err != nil {
		return nil, err
	}

	uploaded, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes written to the object store.",
	}))
	if err != nil {
		return nil, err
	}

	orphaned, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_objects_total",
		Help:      "Objects that were uploaded but could not be linked.",
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ingests:       ingests,
		duration:      duration,
		uploadedBytes: uploaded,
		orphaned:      orphaned,
	}, nil
}

// register returns the already registered collector when one with the same
// descriptor exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}

		return c, fmt.Errorf("failed to register metric, %w", err)
	}

	return c, nil
}

// ObserveIngest records one finished ingestion. size is only counted on
// success.
func (m *Metrics) ObserveIngest(entry string, d time.Duration, size int64, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "internal"
		}
	}

	m.ingests.WithLabelValues(entry, outcome).Inc()
	m.duration.WithLabelValues(entry).Observe(d.Seconds())

	if err == nil {
		m.uploadedBytes.Add(float64(size))
	}
}

func (m *Metrics) Orphaned() {
	if m == nil {
		return
	}

	m.orphaned.Inc()
}

// IngestCounter returns the series for one entry point and outcome.
func (m *Metrics) IngestCounter(entry, outcome string) prometheus.Counter {
	return m.ingests.WithLabelValues(entry, outcome)
}

func (m *Metrics) OrphanedCounter() prometheus.Counter {
	return m.orphaned
}
