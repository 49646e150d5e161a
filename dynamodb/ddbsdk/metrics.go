package ddbsdk

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors a [Client] records into.
type Metrics struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Retries     *prometheus.CounterVec
	Unprocessed *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "facet",
				Subsystem: "dynamodb",
				Name:      "requests_total",
				Help:      "Total number of DynamoDB requests",
			},
			[]string{"operation", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "facet",
				Subsystem: "dynamodb",
				Name:      "request_duration_seconds",
				Help:      "DynamoDB request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "facet",
				Subsystem: "dynamodb",
				Name:      "batch_retries_total",
				Help:      "Total number of batch chunk retries",
			},
			[]string{"operation"},
		),
		Unprocessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "facet",
				Subsystem: "dynamodb",
				Name:      "batch_unprocessed_total",
				Help:      "Total number of items or keys left unprocessed after retries",
			},
			[]string{"operation"},
		),
	}
	for _, c := range []prometheus.Collector{m.Requests, m.Duration, m.Retries, m.Unprocessed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Requests.WithLabelValues(op, outcome).Inc()
	m.Duration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) retried(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) unprocessed(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Unprocessed.WithLabelValues(op).Add(float64(n))
}
