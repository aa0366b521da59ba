package github

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "automerger_webhook"

type metricCollector struct {
	requests *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		requests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "requests_total",
				Help:      "count of received github webhook requests by http response code",
			},
			[]string{"code"},
		),
	}
}

func (m *metricCollector) requestsInc(statusCode int) {
	m.requests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}
