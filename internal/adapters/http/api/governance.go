package api

import (
	"net/http"

	service "github.com/okian/halom/internal/app"
)

// GovernanceDependencies defines the stake distribution operations.
type GovernanceDependencies interface {
	Shares(stakes []float64) ([]float64, error)
	Governance(stakes []float64) (*service.GovernanceReport, error)
}

// GovernanceHandler handles governance requests.
type GovernanceHandler struct {
	deps GovernanceDependencies
}

// NewGovernanceHandler creates a new governance handler.
func NewGovernanceHandler(deps GovernanceDependencies) *GovernanceHandler {
	return &GovernanceHandler{deps: deps}
}

type stakesRequest struct {
	Stakes []float64 `json:"stakes"`
}

type sharesResponse struct {
	Stakes []float64 `json:"stakes"`
	Shares []float64 `json:"shares"`
}

func (h *GovernanceHandler) readStakes(w http.ResponseWriter, r *http.Request, op string) ([]float64, bool) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return nil, false
	}
	var req stakesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return nil, false
	}
	return req.Stakes, true
}

// HandleShares handles POST /governance/shares requests.
func (h *GovernanceHandler) HandleShares(w http.ResponseWriter, r *http.Request) {
	stakes, ok := h.readStakes(w, r, "api.governance_shares")
	if !ok {
		return
	}
	shares, err := h.deps.Shares(stakes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sharesResponse{Stakes: stakes, Shares: shares})
}

// HandleReport handles POST /governance/report requests.
func (h *GovernanceHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	stakes, ok := h.readStakes(w, r, "api.governance_report")
	if !ok {
		return
	}
	report, err := h.deps.Governance(stakes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
