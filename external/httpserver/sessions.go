package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
)

type scheduleRequest struct {
	At time.Time `json:"at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in session.CreateSessionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	in.HostID = caller
	created, err := s.sessions.CreateSession(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []repository.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduleAt(w, r, s.sessions.Schedule)
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	s.scheduleAt(w, r, s.sessions.Reopen)
}

type scheduleFunc func(ctx context.Context, sessionID, actor string, at time.Time) (repository.Session, error)

func (s *Server) scheduleAt(w http.ResponseWriter, r *http.Request, fn scheduleFunc) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.At.IsZero() {
		writeError(w, r, apperr.New(apperr.KindValidation, "at is required"))
		return
	}
	updated, err := fn(r.Context(), r.PathValue("id"), caller, req.At)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type transitionFunc func(ctx context.Context, sessionID, actor string) (repository.Session, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := fn(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.sessions.StartNow)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.sessions.CancelSchedule)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.sessions.End)
}
