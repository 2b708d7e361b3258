package safety

import (
	"sync"

	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AlertsTotal        *prometheus.CounterVec
	EscalationsTotal   prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
	ClassifierFailures prometheus.Counter
	RateLimitedReports prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			AlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sanctuary_safety_alerts_total",
				Help: "Total number of safety alerts raised",
			}, []string{"category", "severity"}),
			EscalationsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sanctuary_safety_escalations_total",
				Help: "Total number of manual alert escalations",
			}),
			NotificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sanctuary_safety_emergency_notifications_total",
				Help: "Emergency notifications by outcome",
			}, []string{"outcome"}),
			ClassifierFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sanctuary_safety_classifier_failures_total",
				Help: "Classifier calls that failed after all retries",
			}),
			RateLimitedReports: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sanctuary_safety_reports_rate_limited_total",
				Help: "Participant reports rejected by the rate limiter",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) RecordAlert(a repository.Alert) {
	if m == nil || m.AlertsTotal == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(string(a.Category), string(a.Severity)).Inc()
}

func (m *Metrics) RecordEscalation() {
	if m == nil || m.EscalationsTotal == nil {
		return
	}
	m.EscalationsTotal.Inc()
}

func (m *Metrics) RecordNotification(ok bool) {
	if m == nil || m.NotificationsTotal == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.NotificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordClassifierFailure() {
	if m == nil || m.ClassifierFailures == nil {
		return
	}
	m.ClassifierFailures.Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil || m.RateLimitedReports == nil {
		return
	}
	m.RateLimitedReports.Inc()
}
