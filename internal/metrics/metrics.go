// Package metrics holds the Prometheus collectors of the sync runner.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Runs              *prometheus.CounterVec
	Records           *prometheus.CounterVec
	Deleted           prometheus.Counter
	RunDuration       prometheus.Histogram
	LastSuccessUnixTs prometheus.Gauge
}

// New registers the collectors with reg; pass prometheus.DefaultRegisterer in production
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "country_sync_runs_total",
			Help: "Total number of reconciliation runs by outcome",
		}, []string{"outcome"}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "country_sync_records_total",
			Help: "Countries written by reconciliation runs by action",
		}, []string{"action"}),
		Deleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "country_sync_deleted_total",
			Help: "Countries removed because they disappeared from the feed",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "country_sync_run_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastSuccessUnixTs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "country_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reconciliation run",
		}),
	}
}

func (m *Metrics) ObserveSuccess(start time.Time, inserted, updated int, deleted int64) {
	m.Runs.WithLabelValues("success").Inc()
	m.Records.WithLabelValues("insert").Add(float64(inserted))
	m.Records.WithLabelValues("update").Add(float64(updated))
	m.Deleted.Add(float64(deleted))
	m.RunDuration.Observe(time.Since(start).Seconds())
	m.LastSuccessUnixTs.SetToCurrentTime()
}

func (m *Metrics) ObserveFailure(start time.Time) {
	m.Runs.WithLabelValues("failure").Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
}
