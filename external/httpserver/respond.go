package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/foxseedlab/sanctuary/internal/apperr"
)

const (
	participantHeader = "X-Participant-ID"
	maxBodyBytes      = 1 << 20
)

var (
	errMissingCaller = apperr.New(apperr.KindForbidden, participantHeader+" header is required")
	errInvalidBody   = apperr.New(apperr.KindValidation, "request body is not valid JSON")
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func callerID(r *http.Request) (string, error) {
	id := r.Header.Get(participantHeader)
	if id == "" {
		return "", errMissingCaller
	}
	return id, nil
}

// decodeJSON accepts an empty body as the zero value.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.KindValidation, errInvalidBody.Reason, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	resp := errorResponse{Error: string(apperr.KindOf(err)), Reason: apperr.ReasonOf(err)}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Reason = "internal error"
	}
	writeJSON(w, status, resp)
}
