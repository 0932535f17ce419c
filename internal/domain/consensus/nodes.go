package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/halom/internal/domain/model"
)

// Reputation bounds and deltas.
const (
	InitialReputation = 100
	MaxReputation     = 100
	MinReputation     = 0
	SuccessDelta      = 1
	FailureDelta      = -5

	DefaultMinNodes         = 3
	DefaultNodeMaxDeviation = 5.0 // percent
)

// ReputationStore persists node reputation scores.
type ReputationStore interface {
	GetReputation(ctx context.Context, nodeID string) (int, bool, error)
	SetReputation(ctx context.Context, nodeID string, score int) error
	ListReputations(ctx context.Context) ([]model.NodeReputation, error)
}

// NodeConfig controls NodeConsensus.
type NodeConfig struct {
	MinNodes int
	Weighted bool
}

// Baseline is the last trusted value of a node.
type Baseline struct {
	Value float64
	At    time.Time
}

// Outcome is the result of a consensus round over node submissions.
type Outcome struct {
	Value    float64            `json:"value"`
	Accepted map[string]float64 `json:"accepted"`
	Rejected map[string]string  `json:"rejected"` // node -> reason
}

// NodeConsensus validates node submissions against the trusted baseline
// and aggregates them by reputation.
type NodeConsensus struct {
	mu         sync.Mutex
	cfg        NodeConfig
	store      ReputationStore
	tolerances map[string]float64 // node -> max deviation percent
	baseline   map[string]Baseline
	now        func() time.Time
}

// NewNodeConsensus creates a node consensus engine over store.
func NewNodeConsensus(cfg NodeConfig, store ReputationStore) (*NodeConsensus, error) {
	if cfg.MinNodes < 1 {
		return nil, fmt.Errorf("%w: min nodes %d", model.ErrConfiguration, cfg.MinNodes)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: reputation store is required", model.ErrConfiguration)
	}
	return &NodeConsensus{
		cfg:        cfg,
		store:      store,
		tolerances: make(map[string]float64),
		baseline:   make(map[string]Baseline),
		now:        time.Now,
	}, nil
}

// Register makes nodeID known with the given deviation tolerance in percent.
// A node without a stored score starts at InitialReputation.
func (n *NodeConsensus) Register(ctx context.Context, nodeID string, maxDeviation float64) error {
	if nodeID == "" {
		return fmt.Errorf("%w: empty node id", model.ErrConfiguration)
	}
	if maxDeviation <= 0 {
		maxDeviation = DefaultNodeMaxDeviation
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.tolerances[nodeID] = maxDeviation
	_, ok, err := n.store.GetReputation(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("load reputation for %s: %w", nodeID, err)
	}
	if ok {
		return nil
	}
	return n.store.SetReputation(ctx, nodeID, InitialReputation)
}

// Known reports whether nodeID is registered.
func (n *NodeConsensus) Known(nodeID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.tolerances[nodeID]
	return ok
}

// ValidateSubmission checks value against the node's tolerance around the
// average of the trusted baseline.
func (n *NodeConsensus) ValidateSubmission(nodeID string, value float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.validateLocked(nodeID, value)
}

func (n *NodeConsensus) validateLocked(nodeID string, value float64) error {
	tolerance, ok := n.tolerances[nodeID]
	if !ok {
		return &model.ValidationError{
			Reason: model.ReasonUnknownNode,
			Value:  value,
			Detail: fmt.Sprintf("node %s is not registered", nodeID),
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &model.ValidationError{
			Reason: model.ReasonOutOfRange,
			Value:  value,
			Detail: "non-finite submission",
		}
	}
	if len(n.baseline) == 0 {
		return nil
	}

	if dev := deviationPercent(value, n.baselineAverage()); dev > tolerance {
		return &model.ValidationError{
			Reason: model.ReasonExcessiveDivergence,
			Value:  value,
			Limit:  tolerance,
			Detail: fmt.Sprintf("deviation %.2f%% exceeds %.2f%%", dev, tolerance),
		}
	}
	return nil
}

// ReachConsensus filters submissions and aggregates the valid ones. It
// needs MinNodes submissions both before and after filtering. On success
// the accepted submissions become the new baseline.
func (n *NodeConsensus) ReachConsensus(ctx context.Context, submissions map[string]float64) (Outcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := Outcome{
		Accepted: make(map[string]float64),
		Rejected: make(map[string]string),
	}
	if len(submissions) < n.cfg.MinNodes {
		return out, fmt.Errorf("%w: %d submissions, need %d",
			model.ErrInsufficientSources, len(submissions), n.cfg.MinNodes)
	}

	for node, value := range submissions {
		if err := n.validateLocked(node, value); err != nil {
			out.Rejected[node] = model.ReasonOf(err)
			continue
		}
		out.Accepted[node] = value
	}
	if len(out.Accepted) < n.cfg.MinNodes {
		return out, fmt.Errorf("%w: %d valid submissions, need %d",
			model.ErrInsufficientSources, len(out.Accepted), n.cfg.MinNodes)
	}

	if n.cfg.Weighted {
		value, err := n.weightedMean(ctx, out.Accepted)
		if err != nil {
			return out, err
		}
		out.Value = value
	} else {
		values := make([]float64, 0, len(out.Accepted))
		for _, v := range out.Accepted {
			values = append(values, v)
		}
		out.Value = Median(values)
	}

	now := n.now()
	n.baseline = make(map[string]Baseline, len(out.Accepted))
	for node, v := range out.Accepted {
		n.baseline[node] = Baseline{Value: v, At: now}
	}
	return out, nil
}

// UpdateReputation applies +1 on success and -5 on failure, bounded to
// [0, 100]. It returns the new score. Unknown nodes are ignored.
func (n *NodeConsensus) UpdateReputation(ctx context.Context, nodeID string, success bool) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.updateLocked(ctx, nodeID, success)
}

func (n *NodeConsensus) updateLocked(ctx context.Context, nodeID string, success bool) (int, error) {
	if _, ok := n.tolerances[nodeID]; !ok {
		return 0, nil
	}
	score, ok, err := n.store.GetReputation(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("load reputation for %s: %w", nodeID, err)
	}
	if !ok {
		score = InitialReputation
	}
	if success {
		score = min(score+SuccessDelta, MaxReputation)
	} else {
		score = max(score+FailureDelta, MinReputation)
	}
	if err := n.store.SetReputation(ctx, nodeID, score); err != nil {
		return 0, fmt.Errorf("store reputation for %s: %w", nodeID, err)
	}
	return score, nil
}

// Settle rewards the accepted nodes of an outcome and penalizes the
// rejected ones.
func (n *NodeConsensus) Settle(ctx context.Context, out Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, node := range sortedKeys(out.Accepted) {
		if _, err := n.updateLocked(ctx, node, true); err != nil {
			return err
		}
	}
	for _, node := range sortedKeys(out.Rejected) {
		if _, err := n.updateLocked(ctx, node, false); err != nil {
			return err
		}
	}
	return nil
}

// Reputations lists every stored score ordered by node id.
func (n *NodeConsensus) Reputations(ctx context.Context) ([]model.NodeReputation, error) {
	list, err := n.store.ListReputations(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].NodeID < list[j].NodeID })
	return list, nil
}

// Baseline returns a copy of the trusted baseline.
func (n *NodeConsensus) Baseline() map[string]Baseline {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]Baseline, len(n.baseline))
	for k, v := range n.baseline {
		out[k] = v
	}
	return out
}

func (n *NodeConsensus) weightedMean(ctx context.Context, accepted map[string]float64) (float64, error) {
	sum, weights := 0.0, 0.0
	for node, v := range accepted {
		score, ok, err := n.store.GetReputation(ctx, node)
		if err != nil {
			return 0, fmt.Errorf("load reputation for %s: %w", node, err)
		}
		if !ok {
			score = InitialReputation
		}
		sum += v * float64(score)
		weights += float64(score)
	}
	if weights == 0 {
		return 0, fmt.Errorf("%w: accepted nodes carry zero reputation", model.ErrInsufficientSources)
	}
	return sum / weights, nil
}

func (n *NodeConsensus) baselineAverage() float64 {
	total := 0.0
	for _, b := range n.baseline {
		total += b.Value
	}
	return total / float64(len(n.baseline))
}

// deviationPercent is |value-avg|/|avg|·100. A zero average tolerates only
// a zero value.
func deviationPercent(value, avg float64) float64 {
	if avg == 0 {
		if value == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(value-avg) / math.Abs(avg) * 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
