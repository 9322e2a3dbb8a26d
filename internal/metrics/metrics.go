package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "proxy_dns"

var (
	opSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "op_duration_seconds",
		Help:      "Duration of internal operations.",
		Buckets:   prometheus.ExponentialBucketsRange(0.0005, 30, 16),
	}, []string{"op", "target"})

	opResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "op_results_total",
		Help:      "Outcomes of internal operations.",
	}, []string{"op", "result"})
)

// Measure starts timing op and returns the function that records the sample.
func Measure(op string) func() {
	return MeasureTarget(op, "")
}

// MeasureTarget is Measure with a target label, for operations fanning out
// to a named peer (an upstream server, a device).
func MeasureTarget(op, target string) func() {
	timer := prometheus.NewTimer(opSeconds.WithLabelValues(op, target))
	return func() { timer.ObserveDuration() }
}

func CountResult(op, result string) {
	opResults.WithLabelValues(op, result).Inc()
}
