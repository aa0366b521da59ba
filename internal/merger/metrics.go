package merger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "automerger_merger"

const resultLabel = "result"

type tickResult string

const (
	tickResultSuccess tickResult = "success"
	tickResultFailure tickResult = "failure"
)

type mergeResult string

const (
	mergeResultMerged    mergeResult = "merged"
	mergeResultRejected  mergeResult = "rejected"
	mergeResultFailed    mergeResult = "failed"
	mergeResultSimulated mergeResult = "simulated"
)

type metricCollector struct {
	ticks  *prometheus.CounterVec
	merges *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		ticks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "ticks_total",
				Help:      "count of polls of the open pull requests",
			},
			[]string{resultLabel},
		),
		merges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "merges_total",
				Help:      "count of merge operations",
			},
			[]string{resultLabel},
		),
	}
}

func (m *metricCollector) tickInc(result tickResult) {
	m.ticks.WithLabelValues(string(result)).Inc()
}

func (m *metricCollector) mergeInc(result mergeResult) {
	m.merges.WithLabelValues(string(result)).Inc()
}
