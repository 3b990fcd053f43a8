// Package metrics holds the Prometheus collectors of the deposit ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_ledger_operations_total",
		Help: "Ledger operations processed, labeled by operation and error kind",
	}, []string{"op", "result"})

	AmountWonTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_ledger_amount_won_total",
		Help: "Won recorded by the ledger, labeled by movement kind",
	}, []string{"kind"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deposit_ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)

// ObserveOperation counts one ledger operation. result is "ok" or an
// error kind.
func ObserveOperation(op, result string) {
	operationsTotal.WithLabelValues(op, result).Inc()
}

// AddAmount adds won to the running total of a movement kind
// ("deposit", "return", "refund"). Negative values are ignored.
func AddAmount(kind string, won int64) {
	if won <= 0 {
		return
	}
	AmountWonTotal.WithLabelValues(kind).Add(float64(won))
}
