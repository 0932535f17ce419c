package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	service "github.com/okian/halom/internal/app"
	"github.com/okian/halom/internal/domain/hoi"
)

// HOIDependencies defines the HOI operations.
type HOIDependencies interface {
	SubmitHOI(ctx context.Context, b hoi.Bundle) (*service.HOIReport, error)
	RunHOICycle(ctx context.Context) (*service.HOIReport, error)
	LastHOI() *service.HOIReport
}

// HOIHandler handles HOI requests.
type HOIHandler struct {
	deps HOIDependencies
}

// NewHOIHandler creates a new HOI handler.
func NewHOIHandler(deps HOIDependencies) *HOIHandler {
	return &HOIHandler{deps: deps}
}

// HandleHOI serves GET /hoi with the last report and POST /hoi with either a
// bundle body or, when the body is empty, the configured bundle provider.
func (h *HOIHandler) HandleHOI(w http.ResponseWriter, r *http.Request) {
	const op = "api.hoi"
	switch r.Method {
	case http.MethodGet:
		last := h.deps.LastHOI()
		if last == nil {
			writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
			return
		}
		writeJSON(w, http.StatusOK, last)
	case http.MethodPost:
		var b hoi.Bundle
		err := decodeJSON(r, &b)
		var report *service.HOIReport
		switch {
		case errors.Is(err, io.EOF):
			report, err = h.deps.RunHOICycle(r.Context())
		case err != nil:
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		default:
			report, err = h.deps.SubmitHOI(r.Context(), b)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		http.NotFound(w, r)
	}
}
