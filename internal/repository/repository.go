package repository

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

type SessionRepository interface {
	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...SessionStatus) ([]Session, error)
}

type ParticipantRepository interface {
	SaveParticipant(ctx context.Context, p Participant) error
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
}

type RoomRepository interface {
	SaveRoom(ctx context.Context, r BreakoutRoom) error
	ListRooms(ctx context.Context, sessionID string) ([]BreakoutRoom, error)
}

type AlertRepository interface {
	SaveAlert(ctx context.Context, a Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlerts(ctx context.Context, sessionID string) ([]Alert, error)
}

type AuditRepository interface {
	InsertAuditEntry(ctx context.Context, e AuditEntry) error
}

type Repository interface {
	SessionRepository
	ParticipantRepository
	RoomRepository
	AlertRepository
	AuditRepository
}
