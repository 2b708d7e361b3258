package session

import (
	"time"

	"github.com/foxseedlab/sanctuary/internal/repository"
)

type StatusPayload struct {
	Status      repository.SessionStatus `json:"status"`
	ScheduledAt *time.Time               `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	EndedAt     *time.Time               `json:"ended_at,omitempty"`
	EndReason   string                   `json:"end_reason,omitempty"`
	Detail      string                   `json:"detail,omitempty"`
}

type ParticipantPayload struct {
	Participant repository.Participant `json:"participant"`
	Reason      string                 `json:"reason,omitempty"`
}

type TelemetryPayload struct {
	ParticipantID    string                      `json:"participant_id"`
	AudioLevel       int                         `json:"audio_level"`
	Speaking         bool                        `json:"speaking"`
	ConnectionStatus repository.ConnectionStatus `json:"connection_status"`
	Quality          string                      `json:"quality,omitempty"`
}

type ReactionPayload struct {
	ParticipantID string    `json:"participant_id"`
	RoomID        string    `json:"room_id,omitempty"`
	Emoji         string    `json:"emoji"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type RoomPayload struct {
	Room   repository.BreakoutRoom `json:"room"`
	Reason string                  `json:"reason,omitempty"`
}

type HealthPayload struct {
	MonitoringDegraded bool   `json:"monitoring_degraded"`
	Reason             string `json:"reason,omitempty"`
}
