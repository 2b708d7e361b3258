package httpserver

import (
	"net/http"

	"github.com/foxseedlab/sanctuary/internal/apperr"
	"github.com/foxseedlab/sanctuary/internal/audio"
	"github.com/foxseedlab/sanctuary/internal/quality"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
)

type admitRequest struct {
	Alias        string `json:"alias"`
	Acknowledged bool   `json:"acknowledged"`
}

type targetRequest struct {
	ParticipantID string          `json:"participant_id"`
	Role          repository.Role `json:"role,omitempty"`
	Muted         bool            `json:"muted,omitempty"`
	Raised        bool            `json:"raised,omitempty"`
}

// target defaults to the caller when the body names no participant.
func (t targetRequest) target(caller string) string {
	if t.ParticipantID == "" {
		return caller
	}
	return t.ParticipantID
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type telemetryRequest struct {
	AudioLevel       *int                        `json:"audio_level,omitempty"`
	OpusFrame        []byte                      `json:"opus_frame,omitempty"`
	ConnectionStatus repository.ConnectionStatus `json:"connection_status,omitempty"`
	Network          *networkRequest             `json:"network,omitempty"`
}

type networkRequest struct {
	PacketLossPct float64 `json:"packet_loss_pct"`
	RTTMillis     float64 `json:"rtt_ms"`
	JitterMillis  float64 `json:"jitter_ms"`
}

type telemetryResponse struct {
	AudioLevel int             `json:"audio_level"`
	Quality    quality.Quality `json:"quality,omitempty"`
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req admitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	admission, err := s.sessions.Admit(r.Context(), r.PathValue("id"), session.AdmitInput{
		ParticipantID: caller,
		Alias:         req.Alias,
		Acknowledged:  req.Acknowledged,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admission)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sessions.Leave(r.Context(), r.PathValue("id"), caller); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeTarget(w http.ResponseWriter, r *http.Request) (string, targetRequest, bool) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return "", targetRequest{}, false
	}
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return "", targetRequest{}, false
	}
	return caller, req, true
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	if req.ParticipantID == "" {
		writeError(w, r, apperr.New(apperr.KindValidation, "participant_id is required"))
		return
	}
	if err := s.sessions.Kick(r.Context(), r.PathValue("id"), caller, req.ParticipantID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	if err := s.sessions.SetRole(r.Context(), r.PathValue("id"), caller, req.target(caller), req.Role); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	if err := s.sessions.SetMuted(r.Context(), r.PathValue("id"), caller, req.target(caller), req.Muted); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHand(w http.ResponseWriter, r *http.Request) {
	caller, req, ok := s.decodeTarget(w, r)
	if !ok {
		return
	}
	sessionID := r.PathValue("id")
	var err error
	if req.Raised {
		err = s.sessions.RaiseHand(r.Context(), sessionID, caller)
	} else {
		err = s.sessions.LowerHand(r.Context(), sessionID, caller, req.target(caller))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reaction, err := s.sessions.React(r.Context(), r.PathValue("id"), caller, req.Emoji)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reaction)
}

// handleTelemetry accepts either a measured audio level or a raw Opus frame
// that is metered here.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req telemetryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sessionID := r.PathValue("id")

	var resp telemetryResponse
	switch {
	case len(req.OpusFrame) > 0:
		level, err := audio.MeterPacket(s.newDecoder, req.OpusFrame)
		if err != nil {
			writeError(w, r, apperr.Wrap(apperr.KindValidation, "opus frame could not be decoded", err))
			return
		}
		resp.AudioLevel = level
	case req.AudioLevel != nil:
		resp.AudioLevel = *req.AudioLevel
	}
	if len(req.OpusFrame) > 0 || req.AudioLevel != nil || req.ConnectionStatus != "" {
		if err := s.sessions.UpdateAudioTelemetry(sessionID, caller, resp.AudioLevel, req.ConnectionStatus); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Network != nil {
		q, err := s.sessions.ReportNetworkSample(sessionID, caller, quality.Sample{
			PacketLossPct: req.Network.PacketLossPct,
			RTTMillis:     req.Network.RTTMillis,
			JitterMillis:  req.Network.JitterMillis,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Quality = q
	}
	writeJSON(w, http.StatusOK, resp)
}
