package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	collectionLabel = "collection"
	operationLabel  = "operation"
	outcomeLabel    = "outcome"
	taskLabel       = "task"
)

// Metrics holds the Prometheus collectors of a Store.
type Metrics struct {
	upserts      *prometheus.CounterVec
	upsertDur    *prometheus.HistogramVec
	taskFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrel_upserts_total",
			Help: "Count of upserts by collection, operation and outcome",
		}, []string{collectionLabel, operationLabel, outcomeLabel}),
		upsertDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docrel_upsert_duration_seconds",
			Help:    "Upsert latency, read-back included",
			Buckets: prometheus.DefBuckets,
		}, []string{collectionLabel, operationLabel}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrel_task_failures_total",
			Help: "Count of failed child write tasks by task kind",
		}, []string{taskLabel}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.upserts, m.upsertDur, m.taskFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeUpsert(collection string, op Operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.upserts.WithLabelValues(collection, string(op), outcome).Inc()
	m.upsertDur.WithLabelValues(collection, string(op)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) taskFailed(task string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(task).Inc()
}
