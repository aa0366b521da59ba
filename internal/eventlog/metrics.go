package eventlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "automerger_eventlog"

type resultLabelVal string

const (
	resultPersisted resultLabelVal = "persisted"
	resultDropped   resultLabelVal = "dropped"
)

type metricCollector struct {
	events *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		events: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "events_total",
				Help:      "count of processed webhook events by result",
			},
			[]string{"result"},
		),
	}
}

func (m *metricCollector) eventsInc(result resultLabelVal) {
	m.events.WithLabelValues(string(result)).Inc()
}
