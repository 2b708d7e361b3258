package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/google/uuid"
)

const OutcomeOK = "ok"

type Recorder struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewRecorder(repo repository.AuditRepository, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{repo: repo, now: now}
}

// Record logs a transition attempt and persists it. err is the result of the
// attempt; nil means success.
func (r *Recorder) Record(ctx context.Context, sessionID, actorID, operation, target string, err error) {
	entry := repository.AuditEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ActorID:   actorID,
		Operation: operation,
		Target:    target,
		Outcome:   OutcomeOK,
		At:        r.now(),
	}
	if err != nil {
		entry.Outcome = string(apperr.KindOf(err))
		entry.Detail = err.Error()
		slog.Info("operation rejected",
			"session_id", sessionID, "actor_id", actorID, "operation", operation,
			"target", target, "outcome", entry.Outcome, "error", err)
	} else {
		slog.Debug("operation applied",
			"session_id", sessionID, "actor_id", actorID, "operation", operation, "target", target)
	}
	if r.repo == nil {
		return
	}
	if perr := r.repo.InsertAuditEntry(context.WithoutCancel(ctx), entry); perr != nil {
		slog.Error("failed to persist audit entry", "session_id", sessionID, "operation", operation, "error", perr)
	}
}
