package session

import (
	"sync"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TransitionsTotal *prometheus.CounterVec
	AdmissionsTotal  *prometheus.CounterVec
	RoomsCreated     prometheus.Counter
	AutoAssigned     *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sanctuary_session_transitions_total",
				Help: "Total number of session status transitions",
			}, []string{"to"}),
			AdmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sanctuary_session_admissions_total",
				Help: "Total number of admission attempts by outcome",
			}, []string{"outcome"}),
			RoomsCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "sanctuary_breakout_rooms_created_total",
				Help: "Total number of breakout rooms created",
			}),
			AutoAssigned: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "sanctuary_breakout_auto_assigned_total",
				Help: "Participants handled by auto-assignment",
			}, []string{"result"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) RecordTransition(to repository.SessionStatus) {
	if m == nil || m.TransitionsTotal == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) RecordAdmission(err error) {
	if m == nil || m.AdmissionsTotal == nil {
		return
	}
	outcome := "admitted"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	m.AdmissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRoomCreated() {
	if m == nil || m.RoomsCreated == nil {
		return
	}
	m.RoomsCreated.Inc()
}

func (m *Metrics) RecordAutoAssign(assigned, unassigned int) {
	if m == nil || m.AutoAssigned == nil {
		return
	}
	m.AutoAssigned.WithLabelValues("assigned").Add(float64(assigned))
	m.AutoAssigned.WithLabelValues("unassigned").Add(float64(unassigned))
}
