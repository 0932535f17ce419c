package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/halom/internal/app"
	"github.com/okian/halom/internal/domain/model"
)

const roundsPrefix = "/nodes/rounds/"

// NodeDependencies defines the node round operations.
type NodeDependencies interface {
	Reputations(ctx context.Context) ([]model.NodeReputation, error)
	OpenRounds() []string
	SubmitNodeValue(ctx context.Context, round, nodeID string, value float64) error
	CloseRound(ctx context.Context, round string) (*service.RoundReport, error)
}

// NodesHandler handles node requests.
type NodesHandler struct {
	deps NodeDependencies
}

// NewNodesHandler creates a new nodes handler.
func NewNodesHandler(deps NodeDependencies) *NodesHandler {
	return &NodesHandler{deps: deps}
}

type nodesResponse struct {
	Nodes      []model.NodeReputation `json:"nodes"`
	OpenRounds []string               `json:"open_rounds"`
}

type submissionRequest struct {
	Round  string   `json:"round"`
	NodeID string   `json:"node_id"`
	Value  *float64 `json:"value"`
}

func (s submissionRequest) validate() error {
	switch {
	case strings.TrimSpace(s.Round) == "":
		return errors.New("missing round")
	case strings.TrimSpace(s.NodeID) == "":
		return errors.New("missing node_id")
	case s.Value == nil:
		return errors.New("missing value")
	}
	return nil
}

type ackResponse struct {
	Status string `json:"status"`
}

// HandleList handles GET /nodes requests.
func (h *NodesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	reps, err := h.deps.Reputations(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reps == nil {
		reps = []model.NodeReputation{}
	}
	writeJSON(w, http.StatusOK, nodesResponse{Nodes: reps, OpenRounds: h.deps.OpenRounds()})
}

// HandleSubmit handles POST /nodes/submissions requests.
func (h *NodesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.node_submission"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req submissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.SubmitNodeValue(r.Context(), req.Round, req.NodeID, *req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleCloseRound handles POST /nodes/rounds/{round}/close requests.
func (h *NodesHandler) HandleCloseRound(w http.ResponseWriter, r *http.Request) {
	const op = "api.close_round"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, roundsPrefix)
	round, ok := strings.CutSuffix(path, "/close")
	if !ok || round == "" || strings.Contains(round, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	report, err := h.deps.CloseRound(r.Context(), round)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
