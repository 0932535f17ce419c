// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StatsProvider
	ConsensusDependencies
	HOIDependencies
	GovernanceDependencies
	NodeDependencies
}

// Server wires HTTP routes for the oracle API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	consensusHandler  *ConsensusHandler
	hoiHandler        *HOIHandler
	governanceHandler *GovernanceHandler
	nodesHandler      *NodesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		consensusHandler:  NewConsensusHandler(deps),
		hoiHandler:        NewHOIHandler(deps),
		governanceHandler: NewGovernanceHandler(deps),
		nodesHandler:      NewNodesHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/consensus", MetricsMiddleware(s.consensusHandler.HandleLatest, "consensus"))
	mux.HandleFunc("/consensus/history", MetricsMiddleware(s.consensusHandler.HandleHistory, "consensus_history"))
	mux.HandleFunc("/cycles", MetricsMiddleware(s.consensusHandler.HandleRunCycle, "cycles"))
	mux.HandleFunc("/hoi", MetricsMiddleware(s.hoiHandler.HandleHOI, "hoi"))
	mux.HandleFunc("/governance/shares", MetricsMiddleware(s.governanceHandler.HandleShares, "governance_shares"))
	mux.HandleFunc("/governance/report", MetricsMiddleware(s.governanceHandler.HandleReport, "governance_report"))
	mux.HandleFunc("/nodes", MetricsMiddleware(s.nodesHandler.HandleList, "nodes"))
	mux.HandleFunc("/nodes/submissions", MetricsMiddleware(s.nodesHandler.HandleSubmit, "node_submissions"))
	mux.HandleFunc(roundsPrefix, MetricsMiddleware(s.nodesHandler.HandleCloseRound, "node_rounds"))
}
