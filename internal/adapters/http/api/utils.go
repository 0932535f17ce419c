package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	service "github.com/okian/halom/internal/app"
	"github.com/okian/halom/internal/domain/model"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Reason: model.ReasonOf(err)})
}

// writeServiceError maps service and domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInputIncomplete):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrRoundNotFound), errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrCycleInProgress):
		writeError(w, http.StatusConflict, "cycle_in_progress", err)
	case errors.Is(err, service.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, "duplicate", err)
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err)
	case errors.Is(err, model.ErrInsufficientSources):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_sources", err)
	case errors.Is(err, service.ErrNoBundleProvider):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, model.ErrSourceFetch), errors.Is(err, service.ErrSubmit):
		writeError(w, http.StatusBadGateway, "upstream_error", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched and returns io.EOF.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
