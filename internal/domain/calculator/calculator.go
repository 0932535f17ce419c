// Package calculator implements root-weighted governance power, reward
// shares and the inequality metrics derived from them.
package calculator

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/halom/internal/domain/model"
)

// Root power bounds and defaults.
const (
	DefaultRootPower = 4
	MinRootPower     = 2
	MaxRootPower     = 10

	// MaxStake is the sanity ceiling for a single stake amount: the protocol
	// max supply expressed in base units.
	MaxStake = 1e26

	percent = 100
)

// Calculator computes root-weighted power for stake sets.
type Calculator struct {
	rootPower   int
	scaleDigits int
}

// New creates a calculator. A root power outside [MinRootPower, MaxRootPower]
// is reported as a configuration error.
func New(opts ...Option) (*Calculator, error) {
	c := &Calculator{
		rootPower:   DefaultRootPower,
		scaleDigits: DefaultScaleDigits,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rootPower < MinRootPower || c.rootPower > MaxRootPower {
		return nil, fmt.Errorf("%w: root power %d outside [%d, %d]",
			model.ErrConfiguration, c.rootPower, MinRootPower, MaxRootPower)
	}
	if c.scaleDigits < minScaleDigits || c.scaleDigits > maxScaleDigits {
		return nil, fmt.Errorf("%w: scale digits %d", model.ErrConfiguration, c.scaleDigits)
	}
	return c, nil
}

// RootPower returns the configured root degree.
func (c *Calculator) RootPower() int { return c.rootPower }

// Root returns the configured root of x.
func (c *Calculator) Root(x float64) (float64, error) {
	if err := checkAmount(x); err != nil {
		return 0, err
	}
	return NthRootScaled(x, c.rootPower, c.scaleDigits)
}

// GovernancePower is the voting power of a stake.
func (c *Calculator) GovernancePower(stake float64) (float64, error) {
	return c.Root(stake)
}

// RewardShare returns the user's share of rewards as a percentage of the
// root-weighted stake total. It is 0 for an empty stake set or a zero stake.
func (c *Calculator) RewardShare(user float64, stakes []float64) (float64, error) {
	if err := checkAmount(user); err != nil {
		return 0, err
	}
	if err := CheckStakes(stakes); err != nil {
		return 0, err
	}
	if len(stakes) == 0 || user == 0 {
		return 0, nil
	}

	userRoot, err := c.Root(user)
	if err != nil {
		return 0, err
	}
	_, total, err := c.roots(stakes)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return userRoot / total * percent, nil
}

// ExpectedReward returns the part of pool the user receives.
func (c *Calculator) ExpectedReward(user float64, stakes []float64, pool float64) (float64, error) {
	share, err := c.RewardShare(user, stakes)
	if err != nil {
		return 0, err
	}
	return share / percent * pool, nil
}

// Shares returns the reward share of every stake, in input order.
func (c *Calculator) Shares(stakes []float64) ([]float64, error) {
	if err := CheckStakes(stakes); err != nil {
		return nil, err
	}
	roots, total, err := c.roots(stakes)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(stakes))
	if total == 0 {
		return out, nil
	}
	for i, r := range roots {
		out[i] = r / total * percent
	}
	return out, nil
}

// AntiWhaleReport compares the largest holder's voting share under linear
// and root weighting.
type AntiWhaleReport struct {
	LargestStake   float64 `json:"largest_stake"`
	LinearShare    float64 `json:"linear_voting_share"`
	RootShare      float64 `json:"root_voting_share"`
	PowerReduction float64 `json:"power_reduction_percentage"`
	Stakers        int     `json:"total_stakes"`
	TotalValue     float64 `json:"total_value"`
	TotalRootValue float64 `json:"total_root_value"`
}

// AntiWhaleEffect reports how much root weighting reduces the largest
// holder's share. It returns nil for an empty stake set.
func (c *Calculator) AntiWhaleEffect(stakes []float64) (*AntiWhaleReport, error) {
	if err := CheckStakes(stakes); err != nil {
		return nil, err
	}
	if len(stakes) == 0 {
		return nil, nil
	}

	roots, totalRoot, err := c.roots(stakes)
	if err != nil {
		return nil, err
	}
	total := sum(stakes)

	r := &AntiWhaleReport{
		Stakers:        len(stakes),
		TotalValue:     total,
		TotalRootValue: totalRoot,
	}
	for i, s := range stakes {
		r.LargestStake = math.Max(r.LargestStake, s)
		if total > 0 {
			r.LinearShare = math.Max(r.LinearShare, s/total*percent)
		}
		if totalRoot > 0 {
			r.RootShare = math.Max(r.RootShare, roots[i]/totalRoot*percent)
		}
	}
	if r.LinearShare > 0 {
		r.PowerReduction = (r.LinearShare - r.RootShare) / r.LinearShare * percent
	}
	return r, nil
}

// VotingSystem summarizes one weighting scheme.
type VotingSystem struct {
	System           string  `json:"system"`
	Degree           int     `json:"degree"`
	TotalVotingPower float64 `json:"total_voting_power"`
	LargestShare     float64 `json:"largest_share"`
}

var votingSystems = []struct {
	key    string
	name   string
	degree int
}{
	{"linear", "Linear (1:1)", 1},
	{"sqrt", "Square Root (1:2)", 2},
	{"cubic", "Cubic Root (1:3)", 3},
	{"fourth_root", "Fourth Root (1:4)", 4},
}

// CompareVotingSystems evaluates the stake set under linear, square, cubic
// and fourth root weighting. It returns nil for an empty stake set.
func (c *Calculator) CompareVotingSystems(stakes []float64) (map[string]VotingSystem, error) {
	if err := CheckStakes(stakes); err != nil {
		return nil, err
	}
	if len(stakes) == 0 {
		return nil, nil
	}

	largest := 0.0
	for _, s := range stakes {
		largest = math.Max(largest, s)
	}
	total := sum(stakes)

	out := make(map[string]VotingSystem, len(votingSystems))
	for _, vs := range votingSystems {
		power := 0.0
		for _, s := range stakes {
			v, err := NthRootScaled(s, vs.degree, c.scaleDigits)
			if err != nil {
				return nil, err
			}
			power += v
		}
		top, err := NthRootScaled(largest, vs.degree, c.scaleDigits)
		if err != nil {
			return nil, err
		}
		share := 0.0
		if total > 0 && power > 0 {
			share = top / power * percent
		}
		out[vs.key] = VotingSystem{
			System:           vs.name,
			Degree:           vs.degree,
			TotalVotingPower: power,
			LargestShare:     share,
		}
	}
	return out, nil
}

// EfficiencyReport holds inequality metrics for a stake set.
type EfficiencyReport struct {
	Stakers               int     `json:"total_stakers"`
	TotalValue            float64 `json:"total_value"`
	AverageStake          float64 `json:"average_stake"`
	GiniLinear            float64 `json:"gini_coefficient_linear"`
	GiniRoot              float64 `json:"gini_coefficient_root"`
	InequalityReduction   float64 `json:"inequality_reduction"`
	DecentralizationScore float64 `json:"decentralization_score"`
}

// GovernanceEfficiency computes the linear and root-weighted Gini
// coefficients of the stake set. It returns nil for an empty stake set.
func (c *Calculator) GovernanceEfficiency(stakes []float64) (*EfficiencyReport, error) {
	if err := CheckStakes(stakes); err != nil {
		return nil, err
	}
	if len(stakes) == 0 {
		return nil, nil
	}
	roots, _, err := c.roots(stakes)
	if err != nil {
		return nil, err
	}

	total := sum(stakes)
	linear := Gini(stakes)
	rooted := Gini(roots)

	r := &EfficiencyReport{
		Stakers:               len(stakes),
		TotalValue:            total,
		AverageStake:          total / float64(len(stakes)),
		GiniLinear:            linear,
		GiniRoot:              rooted,
		DecentralizationScore: (1 - rooted) * percent,
	}
	if linear > 0 {
		r.InequalityReduction = (linear - rooted) / linear * percent
	}
	return r, nil
}

// OptimalStakeDistribution splits total across users with a repeating
// -10%, 0%, +10% variation around the equal share.
func OptimalStakeDistribution(total float64, users int) []float64 {
	if users <= 0 {
		return nil
	}
	equal := total / float64(users)
	out := make([]float64, users)
	for i := range out {
		variation := 1 + float64(i%3-1)*0.1
		out[i] = math.Max(equal*variation, 0)
	}
	return out
}

// Gini returns the rank-weighted Gini coefficient of values, clamped to
// [0, 1]. It is 0 for an empty set or a zero total.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	total, weighted := 0.0, 0.0
	for i, v := range sorted {
		total += v
		weighted += float64(i+1) * v
	}
	if total <= 0 {
		return 0
	}
	fn := float64(n)
	g := 2*weighted/(fn*total) - (fn+1)/fn
	return math.Min(math.Max(g, 0), 1)
}

// CheckStakes rejects stake sets containing negative, non-finite or
// above-ceiling amounts.
func CheckStakes(stakes []float64) error {
	for i, s := range stakes {
		if err := checkAmount(s); err != nil {
			return fmt.Errorf("stake %d: %w", i, err)
		}
	}
	return nil
}

func checkAmount(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("%w: non-finite stake", model.ErrInvalidInput)
	case v < 0:
		return fmt.Errorf("%w: negative stake %g", model.ErrInvalidInput, v)
	case v > MaxStake:
		return fmt.Errorf("%w: stake %g above ceiling %g", model.ErrInvalidInput, v, float64(MaxStake))
	}
	return nil
}

func (c *Calculator) roots(stakes []float64) ([]float64, float64, error) {
	out := make([]float64, len(stakes))
	total := 0.0
	for i, s := range stakes {
		r, err := NthRootScaled(s, c.rootPower, c.scaleDigits)
		if err != nil {
			return nil, 0, err
		}
		out[i] = r
		total += r
	}
	return out, total, nil
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
