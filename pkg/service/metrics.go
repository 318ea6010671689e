package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/terrama2/services/pkg/auditlog"
)

type metrics struct {
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	triggers prometheus.Counter
}

// Register service metrics with reg. A nil registerer creates unregistered metrics.
func newMetrics(reg prometheus.Registerer, s *Service) *metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"kind": string(s.kind)}

	m := &metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "terrama2_service_runs_total",
			Help:        "The total number of finished runs by status.",
			ConstLabels: labels,
		}, []string{"status"}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "terrama2_service_run_duration_seconds",
			Help:        "Wall clock duration of runs.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.1, 4, 10),
		}),

		triggers: factory.NewCounter(prometheus.CounterOpts{
			Name:        "terrama2_service_triggers_total",
			Help:        "The total number of accepted controller triggers.",
			ConstLabels: labels,
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "terrama2_service_tasks_queued",
		Help:        "The number of tasks waiting for a worker.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(s.Statistics().QueuedTasks)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "terrama2_service_tasks_running",
		Help:        "The number of tasks being executed.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(s.Statistics().RunningTasks)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "terrama2_service_workers",
		Help:        "The number of worker routines.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(s.Statistics().Workers)
	})

	return m
}

func (m *metrics) observe(status auditlog.Status, elapsed time.Duration) {
	m.runs.WithLabelValues(string(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
