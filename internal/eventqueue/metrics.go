package eventqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "automerger_eventqueue"

type enqueueResult string

const (
	enqueueResultEnqueued  enqueueResult = "enqueued"
	enqueueResultClosed    enqueueResult = "closed"
	enqueueResultCancelled enqueueResult = "cancelled"
)

type metricCollector struct {
	enqueueOps *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		enqueueOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "enqueue_operations_total",
				Help:      "count of enqueue operations by result",
			},
			[]string{"result"},
		),
	}
}

func (m *metricCollector) enqueueResultInc(result enqueueResult) {
	m.enqueueOps.WithLabelValues(string(result)).Inc()
}
