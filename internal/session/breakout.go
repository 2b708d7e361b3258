package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/google/uuid"
)

const (
	maxRoomNameLength = 64
	idempotencyTTL    = 24 * time.Hour
)

type RoomConfig struct {
	Name            string `json:"name"`
	Topic           string `json:"topic"`
	MaxParticipants int    `json:"max_participants"`
	FacilitatorID   string `json:"facilitator_id"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

func (m *Manager) sessionOfRoom(roomID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	return sessionID, nil
}

func (m *Manager) lockRoom(ctx context.Context, roomID string) (*liveSession, *repository.BreakoutRoom, func(), error) {
	sessionID, err := m.sessionOfRoom(roomID)
	if err != nil {
		return nil, nil, nil, err
	}
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	room, ok := ls.rooms[roomID]
	if !ok {
		release()
		return nil, nil, nil, ErrRoomNotFound
	}
	return ls, room, release, nil
}

// CreateRoom opens a breakout room in a live session. A repeated
// IdempotencyKey returns the room created by the first call.
func (m *Manager) CreateRoom(ctx context.Context, sessionID, actor string, cfg RoomConfig) (repository.BreakoutRoom, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "create_room", "", err)
		return repository.BreakoutRoom{}, err
	}
	defer release()

	room, err := m.createRoom(ctx, ls, actor, cfg)
	m.record(ctx, sessionID, actor, "create_room", room.ID, err)
	return room, err
}

func (m *Manager) createRoom(ctx context.Context, ls *liveSession, actor string, cfg RoomConfig) (repository.BreakoutRoom, error) {
	if err := m.requirePrivileged(ls, actor); err != nil {
		return repository.BreakoutRoom{}, err
	}
	if !ls.session.Status.IsOpen() {
		if ls.session.Status == repository.SessionStatusEnded {
			return repository.BreakoutRoom{}, ErrSessionEnded
		}
		return repository.BreakoutRoom{}, ErrNotYetOpen
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return repository.BreakoutRoom{}, apperr.New(apperr.KindValidation, "room name is required")
	}
	if utf8.RuneCountInString(cfg.Name) > maxRoomNameLength {
		return repository.BreakoutRoom{}, apperr.New(apperr.KindValidation, fmt.Sprintf("room name must be at most %d characters", maxRoomNameLength))
	}
	if cfg.MaxParticipants < 2 {
		return repository.BreakoutRoom{}, apperr.New(apperr.KindValidation, "room capacity must be at least 2")
	}
	if cfg.FacilitatorID == "" {
		cfg.FacilitatorID = actor
	}
	if _, err := m.presentParticipant(ls, cfg.FacilitatorID); err != nil {
		return repository.BreakoutRoom{}, apperr.New(apperr.KindValidation, "facilitator must be a session participant")
	}

	id := uuid.NewString()
	if cfg.IdempotencyKey != "" && m.idem != nil {
		key := "room:" + ls.session.ID + ":" + cfg.IdempotencyKey
		existing, claimed, err := m.idem.Claim(ctx, key, id, idempotencyTTL)
		if err != nil {
			return repository.BreakoutRoom{}, apperr.Wrap(apperr.KindUnavailable, "idempotency store", err)
		}
		if !claimed {
			if room, ok := ls.rooms[existing]; ok {
				slog.Info("room creation replayed", "session_id", ls.session.ID, "room_id", existing)
				return cloneRoom(room), nil
			}
			return repository.BreakoutRoom{}, apperr.New(apperr.KindConflict, "idempotency key already used")
		}
	}

	ls.roomSeq++
	room := &repository.BreakoutRoom{
		ID:              id,
		SessionID:       ls.session.ID,
		Name:            cfg.Name,
		Topic:           strings.TrimSpace(cfg.Topic),
		FacilitatorID:   cfg.FacilitatorID,
		MaxParticipants: cfg.MaxParticipants,
		Status:          repository.RoomStatusWaiting,
		Seq:             ls.roomSeq,
		CreatedAt:       m.clock.Now(),
	}
	ls.rooms[id] = room
	m.mu.Lock()
	m.rooms[id] = ls.session.ID
	m.mu.Unlock()

	m.persistRoom(ctx, room)
	m.metrics.RecordRoomCreated()
	m.publish(ls.session.ID, fanout.EventRoomCreated, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room)})
	slog.Info("breakout room created", "session_id", ls.session.ID, "room_id", id, "max_participants", room.MaxParticipants, "facilitator_id", room.FacilitatorID)
	return cloneRoom(room), nil
}

// JoinRoom moves a participant into a room, leaving any previous room first.
// The participant or a host/moderator may do it.
func (m *Manager) JoinRoom(ctx context.Context, roomID, participantID, actor string) (repository.BreakoutRoom, error) {
	ls, room, release, err := m.lockRoom(ctx, roomID)
	if err != nil {
		m.record(ctx, "", actor, "join_room", roomID+"/"+participantID, err)
		return repository.BreakoutRoom{}, err
	}
	defer release()

	err = m.joinRoom(ctx, ls, room, participantID, actor)
	m.record(ctx, ls.session.ID, actor, "join_room", roomID+"/"+participantID, err)
	return cloneRoom(room), err
}

func (m *Manager) joinRoom(ctx context.Context, ls *liveSession, room *repository.BreakoutRoom, participantID, actor string) error {
	if actor != participantID {
		if err := m.requirePrivileged(ls, actor); err != nil {
			return err
		}
	}
	ps, err := m.presentParticipant(ls, participantID)
	if err != nil {
		return err
	}
	if room.Status == repository.RoomStatusEnded {
		return ErrRoomEnded
	}
	if room.HasMember(participantID) {
		return nil
	}
	if room.Remaining() <= 0 {
		return ErrRoomFull
	}
	m.detachFromRoomsLocked(ctx, ls, participantID, false)
	m.addMemberLocked(ctx, ls, room, ps)
	m.publish(ls.session.ID, fanout.EventRoomUpdated, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room), Reason: "member_joined"})
	return nil
}

func (m *Manager) addMemberLocked(ctx context.Context, ls *liveSession, room *repository.BreakoutRoom, ps *participantState) {
	room.Members = append(room.Members, ps.p.ID)
	if room.Status == repository.RoomStatusWaiting {
		room.Status = repository.RoomStatusActive
	}
	ps.p.RoomID = room.ID
	m.persistRoom(ctx, room)
	m.persistParticipant(ctx, ps)
}

func (m *Manager) LeaveRoom(ctx context.Context, roomID, participantID, actor string) (repository.BreakoutRoom, error) {
	ls, room, release, err := m.lockRoom(ctx, roomID)
	if err != nil {
		m.record(ctx, "", actor, "leave_room", roomID+"/"+participantID, err)
		return repository.BreakoutRoom{}, err
	}
	defer release()

	err = m.leaveRoom(ctx, ls, room, participantID, actor)
	m.record(ctx, ls.session.ID, actor, "leave_room", roomID+"/"+participantID, err)
	return cloneRoom(room), err
}

func (m *Manager) leaveRoom(ctx context.Context, ls *liveSession, room *repository.BreakoutRoom, participantID, actor string) error {
	if actor != participantID {
		if err := m.requirePrivileged(ls, actor); err != nil {
			return err
		}
	}
	if !room.HasMember(participantID) {
		return ErrNotInRoom
	}
	room.Members = slices.DeleteFunc(room.Members, func(id string) bool { return id == participantID })
	if ps, ok := ls.participants[participantID]; ok {
		ps.p.RoomID = ""
		m.persistParticipant(ctx, ps)
	}
	m.persistRoom(ctx, room)
	m.publish(ls.session.ID, fanout.EventRoomUpdated, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room), Reason: "member_left"})
	return nil
}

// DeleteRoom ends the room and returns its members to the unassigned pool.
func (m *Manager) DeleteRoom(ctx context.Context, roomID, actor string) (repository.BreakoutRoom, error) {
	ls, room, release, err := m.lockRoom(ctx, roomID)
	if err != nil {
		m.record(ctx, "", actor, "delete_room", roomID, err)
		return repository.BreakoutRoom{}, err
	}
	defer release()

	err = m.deleteRoom(ctx, ls, room, actor)
	m.record(ctx, ls.session.ID, actor, "delete_room", roomID, err)
	return cloneRoom(room), err
}

func (m *Manager) deleteRoom(ctx context.Context, ls *liveSession, room *repository.BreakoutRoom, actor string) error {
	if err := m.requirePrivileged(ls, actor); err != nil {
		return err
	}
	if room.Status == repository.RoomStatusEnded {
		return ErrRoomEnded
	}
	m.closeRoomLocked(ctx, ls, room, "deleted")
	return nil
}

func (m *Manager) closeRoomLocked(ctx context.Context, ls *liveSession, room *repository.BreakoutRoom, reason string) {
	now := m.clock.Now()
	for _, id := range room.Members {
		if ps, ok := ls.participants[id]; ok {
			ps.p.RoomID = ""
			m.persistParticipant(ctx, ps)
		}
	}
	room.Members = nil
	room.Status = repository.RoomStatusEnded
	room.EndedAt = &now
	m.persistRoom(ctx, room)
	m.publish(ls.session.ID, fanout.EventRoomDeleted, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room), Reason: reason})
	slog.Info("breakout room closed", "session_id", ls.session.ID, "room_id", room.ID, "reason", reason)
}

// detachFromRoomsLocked removes the participant from every open room. When the
// participant is leaving the session, rooms they facilitate are handed to the
// earliest remaining member or closed when nobody is left.
func (m *Manager) detachFromRoomsLocked(ctx context.Context, ls *liveSession, participantID string, leavingSession bool) {
	for _, room := range orderedRooms(ls) {
		if room.Status == repository.RoomStatusEnded {
			continue
		}
		wasMember := room.HasMember(participantID)
		if wasMember {
			room.Members = slices.DeleteFunc(room.Members, func(id string) bool { return id == participantID })
		}
		if leavingSession && room.FacilitatorID == participantID {
			if len(room.Members) == 0 {
				m.closeRoomLocked(ctx, ls, room, "facilitator_left")
				continue
			}
			room.FacilitatorID = room.Members[0]
			m.persistRoom(ctx, room)
			m.publish(ls.session.ID, fanout.EventRoomUpdated, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room), Reason: "facilitator_reassigned"})
			slog.Info("breakout facilitator reassigned", "session_id", ls.session.ID, "room_id", room.ID, "facilitator_id", room.FacilitatorID)
			continue
		}
		if wasMember {
			m.persistRoom(ctx, room)
			m.publish(ls.session.ID, fanout.EventRoomUpdated, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room), Reason: "member_left"})
		}
	}
}

func cloneRoom(room *repository.BreakoutRoom) repository.BreakoutRoom {
	if room == nil {
		return repository.BreakoutRoom{}
	}
	r := *room
	r.Members = slices.Clone(room.Members)
	return r
}
