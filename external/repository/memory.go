package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/foxseedlab/sanctuary/internal/repository"
)

type participantKey struct {
	sessionID     string
	participantID string
}

// MemoryRepository keeps every record in process memory. Used for development
// and tests; all state is lost on restart.
type MemoryRepository struct {
	mu           sync.RWMutex
	sessions     map[string]repository.Session
	participants map[participantKey]repository.Participant
	rooms        map[string]repository.BreakoutRoom
	alerts       map[string]repository.Alert
	audit        []repository.AuditEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:     make(map[string]repository.Session),
		participants: make(map[participantKey]repository.Participant),
		rooms:        make(map[string]repository.BreakoutRoom),
		alerts:       make(map[string]repository.Alert),
	}
}

func (r *MemoryRepository) SaveSession(_ context.Context, s repository.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Invitees = slices.Clone(s.Invitees)
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepository) GetSession(_ context.Context, id string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s.Invitees = slices.Clone(s.Invitees)
	return &s, nil
}

func (r *MemoryRepository) ListSessionsByStatus(_ context.Context, statuses ...repository.SessionStatus) ([]repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []repository.Session
	for _, s := range r.sessions {
		if slices.Contains(statuses, s.Status) {
			s.Invitees = slices.Clone(s.Invitees)
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (r *MemoryRepository) SaveParticipant(_ context.Context, p repository.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Reactions = nil
	r.participants[participantKey{sessionID: p.SessionID, participantID: p.ID}] = p
	return nil
}

func (r *MemoryRepository) ListParticipants(_ context.Context, sessionID string) ([]repository.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []repository.Participant
	for k, p := range r.participants {
		if k.sessionID == sessionID {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AdmissionSeq < list[j].AdmissionSeq })
	return list, nil
}

func (r *MemoryRepository) SaveRoom(_ context.Context, room repository.BreakoutRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room.Members = slices.Clone(room.Members)
	r.rooms[room.ID] = room
	return nil
}

func (r *MemoryRepository) ListRooms(_ context.Context, sessionID string) ([]repository.BreakoutRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []repository.BreakoutRoom
	for _, room := range r.rooms {
		if room.SessionID == sessionID {
			room.Members = slices.Clone(room.Members)
			list = append(list, room)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list, nil
}

func (r *MemoryRepository) SaveAlert(_ context.Context, a repository.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Actions = slices.Clone(a.Actions)
	a.Triggers = slices.Clone(a.Triggers)
	r.alerts[a.ID] = a
	return nil
}

func (r *MemoryRepository) GetAlert(_ context.Context, id string) (*repository.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.Actions = slices.Clone(a.Actions)
	a.Triggers = slices.Clone(a.Triggers)
	return &a, nil
}

func (r *MemoryRepository) ListAlerts(_ context.Context, sessionID string) ([]repository.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []repository.Alert
	for _, a := range r.alerts {
		if a.SessionID == sessionID {
			a.Actions = slices.Clone(a.Actions)
			a.Triggers = slices.Clone(a.Triggers)
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (r *MemoryRepository) InsertAuditEntry(_ context.Context, e repository.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, e)
	return nil
}

func (r *MemoryRepository) AuditEntries(sessionID string) []repository.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []repository.AuditEntry
	for _, e := range r.audit {
		if e.SessionID == sessionID {
			list = append(list, e)
		}
	}
	return list
}
