package notify

import (
	"context"
	"time"

	"github.com/foxseedlab/sanctuary/internal/repository"
)

type EmergencyNotice struct {
	AlertID       string              `json:"alert_id"`
	SessionID     string              `json:"session_id"`
	ParticipantID string              `json:"participant_id"`
	Category      string              `json:"category"`
	Severity      repository.Severity `json:"severity"`
	Triggers      []string            `json:"triggers,omitempty"`
	EscalatedAt   time.Time           `json:"escalated_at"`
}

// Notifier delivers an emergency notice. AlertID is the idempotency key.
type Notifier interface {
	Notify(ctx context.Context, notice EmergencyNotice) error
}

// Forgetter drops per-alert delivery state once the caller gives up on an
// alert.
type Forgetter interface {
	Forget(alertID string)
}
