package httpserver

import (
	"context"
	"net/http"

	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
)

type roomMemberRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var cfg session.RoomConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && cfg.IdempotencyKey == "" {
		cfg.IdempotencyKey = key
	}
	room, err := s.sessions.CreateRoom(r.Context(), r.PathValue("id"), caller, cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.sessions.AutoAssign(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	s.roomMembership(w, r, s.sessions.JoinRoom)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	s.roomMembership(w, r, s.sessions.LeaveRoom)
}

type membershipFunc func(ctx context.Context, roomID, participantID, actor string) (repository.BreakoutRoom, error)

// roomMembership moves the caller, or the participant named in the body when
// a privileged caller acts for someone else.
func (s *Server) roomMembership(w http.ResponseWriter, r *http.Request, fn membershipFunc) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req roomMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	participantID := req.ParticipantID
	if participantID == "" {
		participantID = caller
	}
	room, err := fn(r.Context(), r.PathValue("id"), participantID, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	room, err := s.sessions.DeleteRoom(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
