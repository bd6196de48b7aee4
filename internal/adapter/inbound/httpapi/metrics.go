// Package httpapi provides the HTTP transport adapter for the policy engine.
package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for actiongate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	EvaluationsTotal    *prometheus.CounterVec
	AdminMutationsTotal *prometheus.CounterVec
	EvaluationHistory   prometheus.GaugeFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// historyDepth reports the current evaluation history depth; pass nil to
// register the gauge at a constant zero.
func NewMetrics(reg prometheus.Registerer, historyDepth func() float64) *Metrics {
	if historyDepth == nil {
		historyDepth = func() float64 { return 0 }
	}
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actiongate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "actiongate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actiongate",
				Name:      "evaluations_total",
				Help:      "Total policy evaluations",
			},
			[]string{"verdict"}, // verdict=allow/deny
		),
		AdminMutationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actiongate",
				Name:      "admin_mutations_total",
				Help:      "Total admin policy mutations",
			},
			[]string{"op"},
		),
		EvaluationHistory: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "actiongate",
				Name:      "evaluation_history_depth",
				Help:      "Number of evaluation records currently retained",
			},
			historyDepth,
		),
	}
}
