package fanout

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventSessionStatus        EventType = "session.status"
	EventParticipantJoined    EventType = "participant.joined"
	EventParticipantLeft      EventType = "participant.left"
	EventParticipantKicked    EventType = "participant.kicked"
	EventParticipantUpdated   EventType = "participant.updated"
	EventParticipantTelemetry EventType = "participant.telemetry"
	EventReactionAdded        EventType = "reaction.added"
	EventReactionExpired      EventType = "reaction.expired"
	EventRoomCreated          EventType = "room.created"
	EventRoomUpdated          EventType = "room.updated"
	EventRoomDeleted          EventType = "room.deleted"
	EventRoomAssignment       EventType = "room.assignment"
	EventAlertCreated         EventType = "alert.created"
	EventAlertUpdated         EventType = "alert.updated"
	EventMonitoringHealth     EventType = "monitoring.health"
)

type Lane int

const (
	LaneNormal Lane = iota
	LanePriority
)

func (l Lane) String() string {
	if l == LanePriority {
		return "priority"
	}
	return "normal"
}

// Event is one state delta pushed to the subscribers of a session. Seq is
// assigned by the hub and strictly increases per session.
type Event struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Lane      Lane            `json:"lane"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
	Origin    string          `json:"origin,omitempty"`
}
