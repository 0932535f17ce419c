// Package consensus turns independent source readings into one accepted
// value and tracks trust in the oracle nodes that submit them.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/halom/internal/domain/model"
)

// Strategy selects the aggregation function.
type Strategy string

// Supported strategies.
const (
	StrategyMedian       Strategy = "median"
	StrategyMean         Strategy = "mean"
	StrategyWeightedMean Strategy = "weighted_mean"
	StrategyTrimmedMean  Strategy = "trimmed_mean"
)

// expansionFactor turns fractional weights into whole copies.
const expansionFactor = 10

// MaxWeight bounds weight × multiplier of a single source.
const MaxWeight = 1e5

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyMedian:
		return StrategyMedian, nil
	case StrategyMean:
		return StrategyMean, nil
	case StrategyWeightedMean, "weighted":
		return StrategyWeightedMean, nil
	case StrategyTrimmedMean, "trimmed":
		return StrategyTrimmedMean, nil
	}
	return "", fmt.Errorf("%w: unknown consensus strategy %q", model.ErrConfiguration, s)
}

// Config controls Aggregate.
type Config struct {
	Strategy         Strategy
	MinSources       int
	MaxDeviation     float64            // absolute change cap vs the previous value, 0 disables
	OutlierThreshold float64            // in population standard deviations
	Weights          map[string]float64 // per-source multipliers, default 1
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.MinSources < 1 {
		return fmt.Errorf("%w: min sources %d", model.ErrConfiguration, c.MinSources)
	}
	if c.OutlierThreshold < 0 || math.IsNaN(c.OutlierThreshold) {
		return fmt.Errorf("%w: outlier threshold %g", model.ErrConfiguration, c.OutlierThreshold)
	}
	if c.MaxDeviation < 0 || math.IsNaN(c.MaxDeviation) {
		return fmt.Errorf("%w: max deviation %g", model.ErrConfiguration, c.MaxDeviation)
	}
	for source, w := range c.Weights {
		if !(w > 0) || w > MaxWeight {
			return fmt.Errorf("%w: weight multiplier for %s must be in (0, %g]", model.ErrConfiguration, source, MaxWeight)
		}
	}
	return nil
}

// CheckChange rejects value when it moved more than MaxDeviation away from
// previous. previous is nil when nothing has been accepted yet.
func (c Config) CheckChange(value float64, previous *float64) error {
	if previous == nil || c.MaxDeviation <= 0 {
		return nil
	}
	if change := math.Abs(value - *previous); change > c.MaxDeviation {
		return &model.ValidationError{
			Reason: model.ReasonExcessiveChange,
			Value:  value,
			Limit:  c.MaxDeviation,
			Detail: fmt.Sprintf("consensus moved %g from %g, max deviation %g", change, *previous, c.MaxDeviation),
		}
	}
	return nil
}

// Result is the outcome of a successful aggregation.
type Result struct {
	Value     float64  `json:"value"`
	Strategy  Strategy `json:"strategy"`
	Sources   []string `json:"sources"`
	Expanded  int      `json:"expanded"`
	Discarded int      `json:"discarded"`
}

// weighted is one source value repeated count times.
type weighted struct {
	value float64
	count int
}

// Aggregate collapses observations into one value with the configured
// strategy. Each observation counts int(weight × multiplier × 10) times, so
// every strategy works on the weight-expanded multiset. The multiset is
// kept as (value, count) pairs and never materialized.
func Aggregate(observations []model.Observation, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	strategy, _ := ParseStrategy(string(cfg.Strategy))

	latest := latestBySource(observations)
	if len(latest) < cfg.MinSources {
		return Result{}, fmt.Errorf("%w: have %d, need %d",
			model.ErrInsufficientSources, len(latest), cfg.MinSources)
	}

	sources := make([]string, 0, len(latest))
	entries := make([]weighted, 0, len(latest))
	total := 0
	for _, o := range latest {
		multiplier, ok := cfg.Weights[o.Source]
		if !ok {
			multiplier = 1
		}
		w := o.Weight * multiplier
		if math.IsNaN(w) || w < 0 || w > MaxWeight {
			return Result{}, fmt.Errorf("%w: source %s effective weight %g outside [0, %g]",
				model.ErrConfiguration, o.Source, w, MaxWeight)
		}
		copies := int(w * expansionFactor)
		if copies > 0 {
			entries = append(entries, weighted{value: o.Value, count: copies})
			total += copies
		}
		sources = append(sources, o.Source)
	}
	if total == 0 {
		return Result{}, fmt.Errorf("%w: all sources carry zero weight", model.ErrInsufficientSources)
	}

	res := Result{Strategy: strategy, Sources: sources, Expanded: total}
	switch strategy {
	case StrategyMedian:
		res.Value = weightedMedian(entries)
	case StrategyMean, StrategyWeightedMean:
		res.Value = weightedMean(entries)
	case StrategyTrimmedMean:
		kept := weightedTrim(entries, cfg.OutlierThreshold)
		n := countOf(kept)
		if n == 0 {
			return Result{}, fmt.Errorf("%w: every value was trimmed as an outlier", model.ErrInsufficientSources)
		}
		res.Value = weightedMean(kept)
		res.Discarded = total - n
	}
	return res, nil
}

func countOf(entries []weighted) int {
	n := 0
	for _, e := range entries {
		n += e.count
	}
	return n
}

func weightedMean(entries []weighted) float64 {
	n := countOf(entries)
	if n == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.value * float64(e.count)
	}
	return sum / float64(n)
}

func weightedStdDev(entries []weighted) float64 {
	n := countOf(entries)
	if n < 2 {
		return 0
	}
	mean := weightedMean(entries)
	ss := 0.0
	for _, e := range entries {
		d := e.value - mean
		ss += d * d * float64(e.count)
	}
	return math.Sqrt(ss / float64(n))
}

func weightedTrim(entries []weighted, threshold float64) []weighted {
	mean := weightedMean(entries)
	limit := threshold * weightedStdDev(entries)
	kept := make([]weighted, 0, len(entries))
	for _, e := range entries {
		if math.Abs(e.value-mean) <= limit {
			kept = append(kept, e)
		}
	}
	return kept
}

// weightedMedian returns the median of the expanded multiset, averaging
// the two middle elements for an even count.
func weightedMedian(entries []weighted) float64 {
	n := countOf(entries)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]weighted(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })
	at := func(k int) float64 {
		for _, e := range sorted {
			if k < e.count {
				return e.value
			}
			k -= e.count
		}
		return sorted[len(sorted)-1].value
	}
	if n%2 == 1 {
		return at(n / 2)
	}
	return (at(n/2-1) + at(n/2)) / 2
}

// Trim drops values further than threshold population standard deviations
// from the mean.
func Trim(values []float64, threshold float64) []float64 {
	mean := Mean(values)
	limit := threshold * StdDev(values)
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if math.Abs(v-mean) <= limit {
			kept = append(kept, v)
		}
	}
	return kept
}

// Mean returns the arithmetic mean, or NaN for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)))
}

// Median returns the middle value, averaging the two middle values for an
// even count. It returns NaN for no values.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// latestBySource keeps the newest valid observation per source, sorted by
// source name.
func latestBySource(observations []model.Observation) []model.Observation {
	bySource := make(map[string]model.Observation, len(observations))
	for _, o := range observations {
		if !o.Valid() {
			continue
		}
		if prev, ok := bySource[o.Source]; ok && prev.Timestamp.After(o.Timestamp) {
			continue
		}
		bySource[o.Source] = o
	}
	out := make([]model.Observation, 0, len(bySource))
	for _, o := range bySource {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
