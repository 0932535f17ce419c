// Package model contains domain models passed between layers.
package model

import (
	"math"
	"time"
)

// MaxReliability is the upper bound of a source reliability score.
const MaxReliability = 100

// Observation is a single scalar reading taken from a data source.
// It is never mutated; a newer reading from the same source replaces it.
type Observation struct {
	Source      string    // configured source identifier, e.g. "ksh"
	Value       float64   // extracted scalar value
	Timestamp   time.Time // when the value was fetched
	Weight      float64   // source weight used by weighted strategies
	Reliability float64   // 0..100
}

// Valid reports whether the observation carries a usable number.
func (o Observation) Valid() bool {
	return o.Source != "" && !math.IsNaN(o.Value) && !math.IsInf(o.Value, 0)
}

// Fresh reports whether the observation is younger than window at now.
func (o Observation) Fresh(now time.Time, window time.Duration) bool {
	return !o.Timestamp.IsZero() && now.Sub(o.Timestamp) < window
}

// Accepted is a consensus value that passed validation.
type Accepted struct {
	CycleID     string    `json:"cycle_id"`
	Value       float64   `json:"value"`
	SourceCount int       `json:"source_count"`
	Sources     []string  `json:"sources"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Stake is a single staker position.
type Stake struct {
	Staker string  `json:"staker"`
	Amount float64 `json:"amount"`
}

// Amounts returns the stake amounts in order.
func Amounts(stakes []Stake) []float64 {
	out := make([]float64, len(stakes))
	for i, s := range stakes {
		out[i] = s.Amount
	}
	return out
}

// NodeReputation is the trust score of an oracle node.
type NodeReputation struct {
	NodeID string `json:"node_id"`
	Score  int    `json:"score"`
}
