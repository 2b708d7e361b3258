package safety

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/notify"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
)

type Action string

const (
	ActionAcknowledge Action = "acknowledge"
	ActionEscalate    Action = "escalate"
	ActionResolve     Action = "resolve"
)

const maxNoteLength = 500

// next applies the action to the alert status graph:
//
//	active       -> acknowledged | escalated | resolved
//	acknowledged -> escalated | resolved
//	escalated    -> resolved
//
// Escalating an escalated alert only raises its severity.
func next(a repository.Alert, action Action) (repository.Alert, bool, error) {
	if a.Status == repository.AlertStatusResolved {
		return a, false, ErrResolved
	}
	switch action {
	case ActionAcknowledge:
		if a.Status != repository.AlertStatusActive {
			return a, false, ErrTransition
		}
		a.Status = repository.AlertStatusAcknowledged
	case ActionEscalate:
		if a.Status == repository.AlertStatusEscalated && a.Severity == repository.SeverityCritical {
			return a, false, nil
		}
		a.Severity = a.Severity.Next()
		a.Status = repository.AlertStatusEscalated
		a.ActionRequired = a.ActionRequired || a.Severity.AtLeast(repository.SeverityHigh)
	case ActionResolve:
		if a.ActionRequired && a.Status == repository.AlertStatusActive {
			return a, false, ErrNeedsReview
		}
		a.Status = repository.AlertStatusResolved
	default:
		return a, false, ErrUnknownAction
	}
	return a, true, nil
}

// Act applies a moderator action to an alert. Only the host and moderators
// of the alert's session may act.
func (p *Pipeline) Act(ctx context.Context, alertID, actor string, action Action, note string) (repository.Alert, error) {
	stored, err := p.store.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrAlertNotFound
		}
		p.audit.Record(ctx, "", actor, "alert_"+string(action), alertID, err)
		return repository.Alert{}, err
	}
	alert, err := p.act(ctx, stored.SessionID, alertID, actor, action, note)
	p.audit.Record(ctx, stored.SessionID, actor, "alert_"+string(action), alertID, err)
	return alert, err
}

func (p *Pipeline) act(ctx context.Context, sessionID, alertID, actor string, action Action, note string) (repository.Alert, error) {
	note = strings.TrimSpace(note)
	note = truncateRunes(note, maxNoteLength)
	var (
		result repository.Alert
		notice *notify.EmergencyNotice
	)
	err := p.sessions.Within(ctx, sessionID, func(tx session.Tx) error {
		if !tx.RoleOf(actor).Privileged() {
			return session.ErrNotPrivileged
		}
		// reload under the session lock; every alert mutation of the session
		// is serialized here
		current, err := p.store.GetAlert(ctx, alertID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAlertNotFound
			}
			return err
		}
		updated, changed, err := next(*current, action)
		if err != nil {
			return err
		}
		if !changed {
			result = updated
			return nil
		}
		now := p.clock.Now()
		updated.Actions = append(slices.Clone(updated.Actions), repository.AlertAction{Actor: actor, Action: string(action), Note: note, At: now})
		updated.UpdatedAt = now
		if updated.Status == repository.AlertStatusEscalated && current.Status != repository.AlertStatusEscalated {
			notice = p.reserveNotice(&updated, now)
		}
		if err := p.store.SaveAlert(context.WithoutCancel(ctx), updated); err != nil {
			notice = nil
			return err
		}
		p.publish(sessionID, fanout.EventAlertUpdated, AlertPayload{Alert: updated, Action: string(action)})
		if action == ActionEscalate {
			p.metrics.RecordEscalation()
		}
		slog.Info("safety alert updated", "alert_id", alertID, "session_id", sessionID, "actor_id", actor, "action", action, "status", updated.Status, "severity", updated.Severity)
		result = updated
		return nil
	})
	if err != nil {
		return repository.Alert{}, err
	}
	p.afterCreate(ctx, notice)
	return result, nil
}

// ListAlerts returns the alerts of a session for its host and moderators.
func (p *Pipeline) ListAlerts(ctx context.Context, sessionID, actor string) ([]repository.Alert, error) {
	var alerts []repository.Alert
	err := p.sessions.Within(ctx, sessionID, func(tx session.Tx) error {
		if !tx.RoleOf(actor).Privileged() {
			return session.ErrNotPrivileged
		}
		var err error
		alerts, err = p.store.ListAlerts(ctx, sessionID)
		return err
	})
	return alerts, err
}

func (p *Pipeline) GetAlert(ctx context.Context, alertID, actor string) (repository.Alert, error) {
	stored, err := p.store.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Alert{}, ErrAlertNotFound
		}
		return repository.Alert{}, err
	}
	err = p.sessions.Within(ctx, stored.SessionID, func(tx session.Tx) error {
		if !tx.RoleOf(actor).Privileged() {
			return session.ErrNotPrivileged
		}
		return nil
	})
	if err != nil {
		return repository.Alert{}, err
	}
	return *stored, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
