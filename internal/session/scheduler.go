package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/sanctuary/internal/repository"
)

// ConversionTarget is the status a session should hold at now. It only moves
// scheduled and waiting sessions forward; every other status is returned as is.
func ConversionTarget(status repository.SessionStatus, scheduledAt *time.Time, now time.Time, lobbyLead time.Duration) repository.SessionStatus {
	if scheduledAt == nil {
		return status
	}
	switch status {
	case repository.SessionStatusScheduled, repository.SessionStatusWaiting:
	default:
		return status
	}
	if !now.Before(*scheduledAt) {
		return repository.SessionStatusLive
	}
	if status == repository.SessionStatusScheduled && !now.Before(scheduledAt.Add(-lobbyLead)) {
		return repository.SessionStatusWaiting
	}
	return status
}

func (m *Manager) lobbyLead() time.Duration {
	return m.cfg.LobbyLead()
}

func (m *Manager) endsAt(s repository.Session) (time.Time, bool) {
	if s.StartedAt == nil || s.DurationMinutes <= 0 {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(s.DurationMinutes) * time.Minute), true
}

// nextDeadline is the next instant at which the session changes on its own.
func (m *Manager) nextDeadline(s repository.Session) (time.Time, bool) {
	switch s.Status {
	case repository.SessionStatusScheduled:
		if s.ScheduledAt == nil {
			return time.Time{}, false
		}
		lobby := s.ScheduledAt.Add(-m.lobbyLead())
		if m.clock.Now().Before(lobby) {
			return lobby, true
		}
		return *s.ScheduledAt, true
	case repository.SessionStatusWaiting:
		if s.ScheduledAt == nil {
			return time.Time{}, false
		}
		return *s.ScheduledAt, true
	case repository.SessionStatusLive, repository.SessionStatusActive:
		return m.endsAt(s)
	default:
		return time.Time{}, false
	}
}

// armLocked replaces the pending timer of the session. Bumping the generation
// makes any timer that already fired but has not yet taken the lock a no-op.
func (m *Manager) armLocked(ls *liveSession) {
	m.disarmLocked(ls)
	deadline, ok := m.nextDeadline(ls.session)
	if !ok {
		return
	}
	gen := ls.generation
	sessionID := ls.session.ID
	d := deadline.Sub(m.clock.Now())
	if d < 0 {
		d = 0
	}
	ls.timer = m.clock.AfterFunc(d, func() { m.fire(sessionID, gen) })
	slog.Debug("session timer armed", "session_id", sessionID, "status", ls.session.Status, "deadline", deadline, "generation", gen)
}

func (m *Manager) disarmLocked(ls *liveSession) {
	ls.generation++
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
}

func (m *Manager) fire(sessionID string, gen uint64) {
	ctx := context.Background()
	release, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		slog.Error("failed to lock session for timer", "session_id", sessionID, "error", err)
		return
	}
	defer release()
	ls := m.lookup(sessionID)
	if ls == nil || ls.generation != gen {
		return
	}
	ls.timer = nil
	if !m.advanceLocked(ctx, ls) && ls.generation == gen {
		m.armLocked(ls)
	}
}

// advanceLocked applies the time-driven transitions due at the current instant
// and reports whether anything changed.
func (m *Manager) advanceLocked(ctx context.Context, ls *liveSession) bool {
	now := m.clock.Now()
	s := &ls.session
	changed := false

	if target := ConversionTarget(s.Status, s.ScheduledAt, now, m.lobbyLead()); target != s.Status {
		from := s.Status
		s.Status = target
		if target == repository.SessionStatusLive {
			started := *s.ScheduledAt
			s.StartedAt = &started
		}
		changed = true
		m.metrics.RecordTransition(target)
		slog.Info("session converted", "session_id", s.ID, "from", from, "to", target)
		m.persistSession(ctx, ls)
		m.publishStatus(ls)
	}

	if s.Status.IsOpen() {
		if end, ok := m.endsAt(*s); ok && !now.Before(end) {
			m.endLocked(ctx, ls, endReasonExpired)
			return true
		}
	}

	if changed {
		m.armLocked(ls)
	}
	return changed
}

// Tick evaluates every held session. Timers normally drive conversion; Tick
// covers timers lost to process restarts or clock jumps.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_, release, err := m.lockSession(ctx, id)
		if err != nil {
			slog.Warn("tick skipped session", "session_id", id, "error", err)
			continue
		}
		release()
	}
}
