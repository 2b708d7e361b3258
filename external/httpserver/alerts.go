package httpserver

import (
	"net/http"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/classifier"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/safety"
)

type sampleRequest struct {
	ParticipantID string   `json:"participant_id"`
	Text          string   `json:"text,omitempty"`
	Audio         [][]byte `json:"audio,omitempty"`
	Language      string   `json:"language,omitempty"`
}

func (r sampleRequest) sample() classifier.Sample {
	return classifier.Sample{Text: r.Text, Audio: r.Audio, Language: r.Language}
}

type actionRequest struct {
	Action safety.Action `json:"action"`
	Note   string        `json:"note,omitempty"`
}

type sampleResponse struct {
	Flagged bool              `json:"flagged"`
	Alert   *repository.Alert `json:"alert,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req sampleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	alert, err := s.safety.ReportContent(r.Context(), r.PathValue("id"), caller, req.ParticipantID, req.sample())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// handleSample runs a captured sample through the classifier on behalf of
// the media pipeline. The caller reports its own speech.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req sampleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ParticipantID != "" && req.ParticipantID != caller {
		writeError(w, r, apperr.New(apperr.KindForbidden, "samples can only be submitted for the caller"))
		return
	}
	alert, err := s.safety.AnalyzeSample(r.Context(), r.PathValue("id"), caller, req.sample())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sampleResponse{Flagged: alert != nil, Alert: alert})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	alerts, err := s.safety.ListAlerts(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []repository.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	alert, err := s.safety.GetAlert(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	alert, err := s.safety.Act(r.Context(), r.PathValue("id"), caller, req.Action, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
