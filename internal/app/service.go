// Package service wires sources, consensus, validation, node rounds and
// submission into the oracle service used by the HTTP API and scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/halom/internal/adapters/alert"
	"github.com/okian/halom/internal/adapters/bundle"
	"github.com/okian/halom/internal/adapters/chain"
	"github.com/okian/halom/internal/adapters/repository"
	"github.com/okian/halom/internal/adapters/source"
	"github.com/okian/halom/internal/domain/calculator"
	"github.com/okian/halom/internal/domain/consensus"
	"github.com/okian/halom/internal/domain/dedupe"
	"github.com/okian/halom/internal/domain/hoi"
	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
	"github.com/okian/halom/pkg/metrics"
)

const (
	defaultFailureThreshold = 3
	defaultDedupeSize       = 10_000
	defaultHistoryLimit     = 100
)

// CycleReport describes a finished consensus update cycle.
type CycleReport struct {
	CycleID   string            `json:"cycle_id"`
	Value     float64           `json:"value"`
	Strategy  string            `json:"strategy"`
	Sources   []string          `json:"sources"`
	Discarded int               `json:"discarded"`
	Failures  map[string]string `json:"failures,omitempty"`
	Receipt   *chain.Receipt    `json:"receipt,omitempty"`
	Duration  string            `json:"duration"`
}

// HOIReport describes a computed and submitted HOI value.
type HOIReport struct {
	CycleID    string         `json:"cycle_id"`
	HOI        float64        `json:"hoi"`
	Ratios     hoi.Ratios     `json:"ratios"`
	SubIndices hoi.SubIndices `json:"sub_indices"`
	Receipt    *chain.Receipt `json:"receipt,omitempty"`
	At         time.Time      `json:"at"`
}

// RoundReport describes a closed node round.
type RoundReport struct {
	Round       string             `json:"round"`
	Value       float64            `json:"value"`
	Accepted    map[string]float64 `json:"accepted"`
	Rejected    map[string]string  `json:"rejected"`
	Reputations map[string]int     `json:"reputations"`
	Receipt     *chain.Receipt     `json:"receipt,omitempty"`
}

// GovernanceReport bundles the stake distribution statistics.
type GovernanceReport struct {
	RootPower     int                                `json:"root_power"`
	AntiWhale     *calculator.AntiWhaleReport        `json:"anti_whale"`
	Efficiency    *calculator.EfficiencyReport       `json:"efficiency"`
	VotingSystems map[string]calculator.VotingSystem `json:"voting_systems"`
}

// Service is the oracle feeder.
type Service struct {
	mu      sync.RWMutex
	cycleMu sync.Mutex

	// Core components
	store     repository.Store
	sources   *source.Manager
	nodes     *consensus.NodeConsensus
	deduper   dedupe.Deduper
	calc      *calculator.Calculator
	submitter chain.Submitter
	alerter   alert.Alerter
	bundles   bundle.Provider

	// Configuration
	aggregation      consensus.Config
	validator        consensus.Validator
	nodeConfig       consensus.NodeConfig
	nodeDeviations   map[string]float64
	failureThreshold int
	dedupeSize       int
	historyLimit     int

	// State
	started bool
	stats   model.Stats
	lastHOI *HOIReport
	rounds  map[string]map[string]float64

	logger logger.Logger
}

// New constructs a Service. Unset collaborators get in-memory or logging
// defaults.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		aggregation: consensus.Config{
			Strategy:         consensus.StrategyMedian,
			MinSources:       1,
			OutlierThreshold: 2,
		},
		nodeConfig:       consensus.NodeConfig{MinNodes: consensus.DefaultMinNodes},
		nodeDeviations:   make(map[string]float64),
		failureThreshold: defaultFailureThreshold,
		dedupeSize:       defaultDedupeSize,
		historyLimit:     defaultHistoryLimit,
		rounds:           make(map[string]map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if err := s.aggregation.Validate(); err != nil {
		return nil, err
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.sources == nil {
		m, err := source.NewManager(nil, source.WithCache(s.store))
		if err != nil {
			return nil, err
		}
		s.sources = m
	}
	if s.calc == nil {
		c, err := calculator.New()
		if err != nil {
			return nil, err
		}
		s.calc = c
	}
	if s.submitter == nil {
		s.submitter = chain.NewLogSubmitter(0)
	}
	if s.alerter == nil {
		s.alerter = alert.NewLogAlerter(s.logger.Named("alert"))
	}

	nodes, err := consensus.NewNodeConsensus(s.nodeConfig, s.store)
	if err != nil {
		return nil, err
	}
	s.nodes = nodes
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s, nil
}

// Start registers the configured nodes.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting oracle service...")

	ids := make([]string, 0, len(s.nodeDeviations))
	for id := range s.nodeDeviations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.nodes.Register(ctx, id, s.nodeDeviations[id]); err != nil {
			return fmt.Errorf("register node %s: %w", id, err)
		}
	}
	metrics.UpdateActiveNodes(len(ids))
	if err := s.publishReputations(ctx); err != nil {
		s.logger.Warn(ctx, "could not publish reputations", logger.Error(err))
	}

	s.started = true
	s.logger.Info(ctx, "oracle service started",
		logger.Int("sources", len(s.sources.Sources())),
		logger.Int("nodes", len(ids)),
		logger.String("strategy", string(s.aggregation.Strategy)),
	)
	return nil
}

// Stop closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping oracle service...")
	if err := s.store.Close(); err != nil {
		s.logger.Error(context.Background(), "error closing store", logger.Error(err))
	}
	s.started = false
	s.logger.Info(context.Background(), "oracle service stopped")
}

// RunCycle fetches every source, aggregates, validates, records and
// submits one consensus value. Only one cycle runs at a time; a concurrent
// call returns ErrCycleInProgress.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !s.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	start := time.Now()
	cycleID := uuid.NewString()
	report, err := s.runCycle(ctx, cycleID)
	elapsed := time.Since(start)
	metrics.RecordCycle(err == nil, float64(elapsed.Milliseconds()))

	if err != nil {
		s.logger.Error(ctx, "update cycle failed",
			logger.String("cycle_id", cycleID),
			logger.Duration("took", elapsed),
			logger.Error(err),
		)
		s.recordFailure(ctx, err)
		return report, err
	}

	report.Duration = elapsed.String()
	s.recordSuccess(report.Value)
	s.logger.Info(ctx, "update cycle accepted",
		logger.String("cycle_id", cycleID),
		logger.Float64("value", report.Value),
		logger.Int("sources", len(report.Sources)),
		logger.Duration("took", elapsed),
	)
	return report, nil
}

func (s *Service) runCycle(ctx context.Context, cycleID string) (*CycleReport, error) {
	batch, err := s.sources.FetchAll(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	report := &CycleReport{CycleID: cycleID, Failures: make(map[string]string, len(batch.Failures))}
	for name, ferr := range batch.Failures {
		report.Failures[name] = ferr.Error()
	}

	if err := s.validator.CheckRequired(batch.Observations); err != nil {
		metrics.RecordValidationError(model.ReasonOf(err))
		return report, err
	}

	res, err := consensus.Aggregate(batch.Observations, s.aggregation)
	if err != nil {
		metrics.RecordConsensusError(consensusErrorKind(err))
		return report, err
	}
	report.Value = res.Value
	report.Strategy = string(res.Strategy)
	report.Sources = res.Sources
	report.Discarded = res.Discarded

	var previous *float64
	last, ok, err := s.store.LatestAccepted(ctx)
	if err != nil {
		return report, fmt.Errorf("load previous value: %w", err)
	}
	if ok {
		previous = &last.Value
	}
	if err := s.validator.Validate(res.Value, previous); err != nil {
		metrics.RecordValidationError(model.ReasonOf(err))
		return report, err
	}
	if err := s.aggregation.CheckChange(res.Value, previous); err != nil {
		metrics.RecordValidationError(model.ReasonOf(err))
		return report, err
	}

	accepted := model.Accepted{
		CycleID:     cycleID,
		Value:       res.Value,
		SourceCount: len(res.Sources),
		Sources:     res.Sources,
		AcceptedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendAccepted(ctx, accepted); err != nil {
		return report, fmt.Errorf("record accepted value: %w", err)
	}
	metrics.UpdateConsensus(res.Value, len(res.Sources))

	receipt, err := s.submit(ctx, chain.KindConsensus, cycleID, res.Value)
	if err != nil {
		return report, err
	}
	report.Receipt = receipt
	return report, nil
}

func (s *Service) submit(ctx context.Context, kind, cycleID string, value float64) (*chain.Receipt, error) {
	sub, err := chain.NewSubmission(kind, cycleID, value)
	if err != nil {
		metrics.RecordSubmission(kind, false)
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	receipt, err := s.submitter.Submit(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	return &receipt, nil
}

func (s *Service) recordSuccess(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.SuccessfulUpdates++
	s.stats.ConsecutiveFailures = 0
	s.stats.LastUpdate = time.Now().UTC()
	s.stats.LastValue = value
	s.stats.LastError = ""
	metrics.UpdateConsecutiveFailures(0)
}

func (s *Service) recordFailure(ctx context.Context, cause error) {
	s.mu.Lock()
	s.stats.FailedUpdates++
	s.stats.ConsecutiveFailures++
	s.stats.LastError = cause.Error()
	snapshot := s.stats
	threshold := s.failureThreshold
	s.mu.Unlock()

	metrics.UpdateConsecutiveFailures(snapshot.ConsecutiveFailures)
	if snapshot.ConsecutiveFailures < threshold {
		return
	}
	msg := fmt.Sprintf("%d consecutive update failures, last: %v", snapshot.ConsecutiveFailures, cause)
	if err := s.alerter.Alert(ctx, msg, snapshot); err != nil {
		metrics.RecordErrorByComponent("alert", "delivery")
		s.logger.Error(ctx, "alert delivery failed", logger.Error(err))
	}
}

func consensusErrorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientSources):
		return "insufficient_sources"
	case errors.Is(err, model.ErrConfiguration):
		return "configuration"
	}
	return "other"
}

// SubmitHOI computes the index for b and submits it.
func (s *Service) SubmitHOI(ctx context.Context, b hoi.Bundle) (*HOIReport, error) {
	res, err := hoi.Compute(b)
	if err != nil {
		metrics.RecordErrorByComponent("hoi", "compute")
		return nil, err
	}
	cycleID := uuid.NewString()
	metrics.UpdateHOI(res.HOI)

	report := &HOIReport{
		CycleID:    cycleID,
		HOI:        res.HOI,
		Ratios:     res.Ratios,
		SubIndices: res.SubIndices,
		At:         time.Now().UTC(),
	}
	receipt, err := s.submit(ctx, chain.KindHOI, cycleID, res.HOI)
	if err != nil {
		return report, err
	}
	report.Receipt = receipt

	s.mu.Lock()
	s.lastHOI = report
	s.mu.Unlock()

	s.logger.Info(ctx, "HOI submitted", logger.String("cycle_id", cycleID), logger.Float64("hoi", res.HOI))
	return report, nil
}

// RunHOICycle loads the bundle from the configured provider and submits it.
func (s *Service) RunHOICycle(ctx context.Context) (*HOIReport, error) {
	if s.bundles == nil {
		return nil, ErrNoBundleProvider
	}
	b, err := s.bundles.Bundle(ctx)
	if err != nil {
		return nil, fmt.Errorf("load HOI bundle: %w", err)
	}
	return s.SubmitHOI(ctx, b)
}

// LastHOI returns the most recent HOI report, or nil.
func (s *Service) LastHOI() *HOIReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHOI
}

// RegisterNode makes a node eligible for rounds.
func (s *Service) RegisterNode(ctx context.Context, nodeID string, maxDeviation float64) error {
	if err := s.nodes.Register(ctx, nodeID, maxDeviation); err != nil {
		return err
	}
	s.mu.Lock()
	s.nodeDeviations[nodeID] = maxDeviation
	n := len(s.nodeDeviations)
	s.mu.Unlock()
	metrics.UpdateActiveNodes(n)
	return nil
}

// SubmitNodeValue records a node's value for round. Each node submits at
// most once per round. Deviation is judged when the round closes.
func (s *Service) SubmitNodeValue(ctx context.Context, round, nodeID string, value float64) error {
	if !s.nodes.Known(nodeID) {
		metrics.RecordNodeSubmission("unknown")
		return &model.ValidationError{
			Reason: model.ReasonUnknownNode,
			Value:  value,
			Detail: fmt.Sprintf("node %s is not registered", nodeID),
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		metrics.RecordNodeSubmission("invalid")
		return fmt.Errorf("%w: non-finite value from %s", model.ErrInvalidInput, nodeID)
	}
	if s.deduper.SeenAndRecord(ctx, round, nodeID) {
		metrics.RecordNodeSubmission("duplicate")
		return ErrDuplicateSubmission
	}

	s.mu.Lock()
	subs, ok := s.rounds[round]
	if !ok {
		subs = make(map[string]float64)
		s.rounds[round] = subs
	}
	subs[nodeID] = value
	s.mu.Unlock()

	metrics.RecordNodeSubmission("recorded")
	return nil
}

// CloseRound reaches consensus over the round's submissions, settles
// reputations and submits the agreed value. Rejected nodes are penalized
// even when the round fails.
func (s *Service) CloseRound(ctx context.Context, round string) (*RoundReport, error) {
	s.mu.Lock()
	subs, ok := s.rounds[round]
	delete(s.rounds, round)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoundNotFound, round)
	}
	s.deduper.Forget(ctx, round)

	out, err := s.nodes.ReachConsensus(ctx, subs)
	report := &RoundReport{Round: round, Accepted: out.Accepted, Rejected: out.Rejected}
	if err != nil {
		s.mu.Lock()
		s.stats.ConsensusFailed++
		s.mu.Unlock()
		metrics.RecordConsensusError(consensusErrorKind(err))
		if serr := s.nodes.Settle(ctx, consensus.Outcome{Rejected: out.Rejected}); serr != nil {
			return report, errors.Join(err, serr)
		}
		report.Reputations = s.reputationMap(ctx)
		return report, err
	}

	if err := s.nodes.Settle(ctx, out); err != nil {
		return report, fmt.Errorf("settle round %s: %w", round, err)
	}
	s.mu.Lock()
	s.stats.ConsensusAchieved++
	s.mu.Unlock()

	report.Value = out.Value
	report.Reputations = s.reputationMap(ctx)

	receipt, err := s.submit(ctx, chain.KindNodeRound, round, out.Value)
	if err != nil {
		return report, err
	}
	report.Receipt = receipt
	s.logger.Info(ctx, "node round closed",
		logger.String("round", round),
		logger.Float64("value", out.Value),
		logger.Int("accepted", len(out.Accepted)),
		logger.Int("rejected", len(out.Rejected)),
	)
	return report, nil
}

func (s *Service) reputationMap(ctx context.Context) map[string]int {
	list, err := s.nodes.Reputations(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not list reputations", logger.Error(err))
		return nil
	}
	out := make(map[string]int, len(list))
	for _, r := range list {
		out[r.NodeID] = r.Score
		metrics.UpdateNodeReputation(r.NodeID, r.Score)
	}
	return out
}

func (s *Service) publishReputations(ctx context.Context) error {
	list, err := s.nodes.Reputations(ctx)
	if err != nil {
		return err
	}
	for _, r := range list {
		metrics.UpdateNodeReputation(r.NodeID, r.Score)
	}
	return nil
}

// Reputations lists node reputations ordered by node id.
func (s *Service) Reputations(ctx context.Context) ([]model.NodeReputation, error) {
	return s.nodes.Reputations(ctx)
}

// OpenRounds returns the ids of rounds that have submissions, sorted.
func (s *Service) OpenRounds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rounds))
	for r := range s.rounds {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Latest returns the newest accepted consensus value.
func (s *Service) Latest(ctx context.Context) (model.Accepted, bool, error) {
	return s.store.LatestAccepted(ctx)
}

// History returns up to n accepted values, newest first. n is capped by
// the history limit.
func (s *Service) History(ctx context.Context, n int) ([]model.Accepted, error) {
	if n <= 0 || n > s.historyLimit {
		n = s.historyLimit
	}
	return s.store.RecentAccepted(ctx, n)
}

// Shares returns root-weighted governance shares in percent.
func (s *Service) Shares(stakes []float64) ([]float64, error) {
	return s.calc.Shares(stakes)
}

// Governance returns the anti-whale, efficiency and voting system reports.
func (s *Service) Governance(stakes []float64) (*GovernanceReport, error) {
	aw, err := s.calc.AntiWhaleEffect(stakes)
	if err != nil {
		return nil, err
	}
	eff, err := s.calc.GovernanceEfficiency(stakes)
	if err != nil {
		return nil, err
	}
	vs, err := s.calc.CompareVotingSystems(stakes)
	if err != nil {
		return nil, err
	}
	return &GovernanceReport{
		RootPower:     s.calc.RootPower(),
		AntiWhale:     aw,
		Efficiency:    eff,
		VotingSystems: vs,
	}, nil
}

// Stats returns a copy of the update statistics.
func (s *Service) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"started":             s.started,
		"sources":             s.sources.Sources(),
		"strategy":            string(s.aggregation.Strategy),
		"successfulUpdates":   s.stats.SuccessfulUpdates,
		"failedUpdates":       s.stats.FailedUpdates,
		"consecutiveFailures": s.stats.ConsecutiveFailures,
		"successRate":         s.stats.SuccessRate(),
		"consensusAchieved":   s.stats.ConsensusAchieved,
		"consensusFailed":     s.stats.ConsensusFailed,
		"consensusRate":       s.stats.ConsensusRate(),
		"lastUpdate":          s.stats.LastUpdate,
		"lastValue":           s.stats.LastValue,
		"lastError":           s.stats.LastError,
		"openRounds":          len(s.rounds),
		"registeredNodes":     len(s.nodeDeviations),
		"dedupeSize":          s.deduper.Size(),
		"rootPower":           s.calc.RootPower(),
	}
}
