package api

import (
	"context"
	"net/http"
	"strconv"

	service "github.com/okian/halom/internal/app"
	"github.com/okian/halom/internal/domain/model"
)

const defaultHistoryLimit = 30

// ConsensusDependencies defines the consensus read and cycle operations.
type ConsensusDependencies interface {
	RunCycle(ctx context.Context) (*service.CycleReport, error)
	Latest(ctx context.Context) (model.Accepted, bool, error)
	History(ctx context.Context, n int) ([]model.Accepted, error)
}

// ConsensusHandler handles consensus requests.
type ConsensusHandler struct {
	deps ConsensusDependencies
}

// NewConsensusHandler creates a new consensus handler.
func NewConsensusHandler(deps ConsensusDependencies) *ConsensusHandler {
	return &ConsensusHandler{deps: deps}
}

// HandleLatest handles GET /consensus requests.
func (h *ConsensusHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	const op = "api.consensus_latest"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	latest, ok, err := h.deps.Latest(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// HandleHistory handles GET /consensus/history?limit=N requests.
func (h *ConsensusHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.consensus_history"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}
	history, err := h.deps.History(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if history == nil {
		history = []model.Accepted{}
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleRunCycle handles POST /cycles requests.
func (h *ConsensusHandler) HandleRunCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	report, err := h.deps.RunCycle(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
