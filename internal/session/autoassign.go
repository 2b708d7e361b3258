package session

import (
	"context"
	"log/slog"
	"sort"

	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/repository"
)

type Assignment struct {
	ParticipantID string `json:"participant_id"`
	RoomID        string `json:"room_id"`
}

type AssignmentResult struct {
	Assignments []Assignment `json:"assignments"`
	Unassigned  []string     `json:"unassigned"`
}

type roomSlot struct {
	id        string
	seq       int64
	remaining int
}

// planAssignment hands participants out one at a time to the room with the
// most remaining headroom, earliest room first on ties. The input order of
// participants is preserved in the result.
func planAssignment(participants []string, rooms []roomSlot) AssignmentResult {
	slots := make([]roomSlot, len(rooms))
	copy(slots, rooms)
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].seq < slots[j].seq })

	var res AssignmentResult
	for _, pid := range participants {
		best := -1
		for i, s := range slots {
			if s.remaining <= 0 {
				continue
			}
			if best < 0 || s.remaining > slots[best].remaining {
				best = i
			}
		}
		if best < 0 {
			res.Unassigned = append(res.Unassigned, pid)
			continue
		}
		slots[best].remaining--
		res.Assignments = append(res.Assignments, Assignment{ParticipantID: pid, RoomID: slots[best].id})
	}
	return res
}

// AutoAssign distributes every present participant without a room across the
// open rooms of the session.
func (m *Manager) AutoAssign(ctx context.Context, sessionID, actor string) (AssignmentResult, error) {
	ls, release, err := m.lockSession(ctx, sessionID)
	if err != nil {
		m.record(ctx, sessionID, actor, "auto_assign", "", err)
		return AssignmentResult{}, err
	}
	defer release()

	res, err := m.autoAssign(ctx, ls, actor)
	m.record(ctx, sessionID, actor, "auto_assign", "", err)
	return res, err
}

func (m *Manager) autoAssign(ctx context.Context, ls *liveSession, actor string) (AssignmentResult, error) {
	if err := m.requirePrivileged(ls, actor); err != nil {
		return AssignmentResult{}, err
	}
	if !ls.session.Status.IsOpen() {
		if ls.session.Status == repository.SessionStatusEnded {
			return AssignmentResult{}, ErrSessionEnded
		}
		return AssignmentResult{}, ErrNotYetOpen
	}

	pool := make([]*participantState, 0, len(ls.participants))
	for _, ps := range ls.participants {
		if ps.p.Present() && ps.p.RoomID == "" {
			pool = append(pool, ps)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].p.AdmissionSeq < pool[j].p.AdmissionSeq })
	ids := make([]string, len(pool))
	for i, ps := range pool {
		ids[i] = ps.p.ID
	}

	var slots []roomSlot
	for _, room := range orderedRooms(ls) {
		if room.Status == repository.RoomStatusEnded {
			continue
		}
		slots = append(slots, roomSlot{id: room.ID, seq: room.Seq, remaining: room.Remaining()})
	}

	res := planAssignment(ids, slots)
	touched := make(map[string]bool)
	for _, a := range res.Assignments {
		room := ls.rooms[a.RoomID]
		m.addMemberLocked(ctx, ls, room, ls.participants[a.ParticipantID])
		touched[a.RoomID] = true
	}
	for _, room := range orderedRooms(ls) {
		if touched[room.ID] {
			m.publish(ls.session.ID, fanout.EventRoomUpdated, fanout.LaneNormal, RoomPayload{Room: cloneRoom(room), Reason: "auto_assigned"})
		}
	}
	if len(res.Assignments) > 0 {
		m.publish(ls.session.ID, fanout.EventRoomAssignment, fanout.LaneNormal, res)
	}
	m.metrics.RecordAutoAssign(len(res.Assignments), len(res.Unassigned))
	slog.Info("participants auto-assigned", "session_id", ls.session.ID, "assigned", len(res.Assignments), "unassigned", len(res.Unassigned))
	return res, nil
}
