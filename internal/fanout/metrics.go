package fanout

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Subscribers     prometheus.Gauge
	PublishedTotal  *prometheus.CounterVec
	EvictionsTotal  prometheus.Counter
	RelayErrorTotal prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "sanctuary_fanout_subscribers",
				Help: "Current number of session event subscribers",
			}),
			PublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sanctuary_fanout_published_total",
				Help: "Total number of session events published",
			}, []string{"type"}),
			EvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sanctuary_fanout_evictions_total",
				Help: "Total number of subscribers evicted for lagging",
			}),
			RelayErrorTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sanctuary_fanout_relay_errors_total",
				Help: "Total number of events the cross-instance relay failed to forward",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) SubscriberJoined() {
	if m == nil || m.Subscribers == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) SubscriberLeft() {
	if m == nil || m.Subscribers == nil {
		return
	}
	m.Subscribers.Dec()
}

func (m *Metrics) RecordPublished(typ EventType) {
	if m == nil || m.PublishedTotal == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) RecordEviction() {
	if m == nil || m.EvictionsTotal == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

func (m *Metrics) RecordRelayError() {
	if m == nil || m.RelayErrorTotal == nil {
		return
	}
	m.RelayErrorTotal.Inc()
}
