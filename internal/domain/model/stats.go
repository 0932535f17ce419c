package model

import "time"

// Stats counts update cycle outcomes.
type Stats struct {
	SuccessfulUpdates   int       `json:"successful_updates"`
	FailedUpdates       int       `json:"failed_updates"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConsensusAchieved   int       `json:"consensus_achieved"`
	ConsensusFailed     int       `json:"consensus_failed"`
	LastUpdate          time.Time `json:"last_update"`
	LastValue           float64   `json:"last_value"`
	LastError           string    `json:"last_error,omitempty"`
}

// Total is the number of finished update cycles.
func (s Stats) Total() int { return s.SuccessfulUpdates + s.FailedUpdates }

// SuccessRate is the percentage of successful cycles, 0 when none ran.
func (s Stats) SuccessRate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.SuccessfulUpdates) / float64(s.Total()) * 100
}

// ConsensusRate is the percentage of node rounds that reached consensus.
func (s Stats) ConsensusRate() float64 {
	n := s.ConsensusAchieved + s.ConsensusFailed
	if n == 0 {
		return 0
	}
	return float64(s.ConsensusAchieved) / float64(n) * 100
}
