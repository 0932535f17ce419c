package consensus

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/halom/internal/domain/model"
)

// Validator accepts a consensus value only inside absolute bounds and within
// MaxChange of the previously accepted value.
type Validator struct {
	MinValue        float64
	MaxValue        float64
	MaxChange       float64
	RequiredSources []string
}

// Validate returns a *model.ValidationError with reason out_of_range or
// excessive_change, or nil when value is acceptable. previous is nil when
// nothing has been accepted yet.
func (v Validator) Validate(value float64, previous *float64) error {
	if math.IsNaN(value) || value < v.MinValue || value > v.MaxValue {
		return &model.ValidationError{
			Reason: model.ReasonOutOfRange,
			Value:  value,
			Detail: fmt.Sprintf("value %g outside [%g, %g]", value, v.MinValue, v.MaxValue),
		}
	}
	if previous != nil {
		if change := math.Abs(value - *previous); change > v.MaxChange {
			return &model.ValidationError{
				Reason: model.ReasonExcessiveChange,
				Value:  value,
				Limit:  v.MaxChange,
				Detail: fmt.Sprintf("change %g from %g exceeds %g", change, *previous, v.MaxChange),
			}
		}
	}
	return nil
}

// MissingRequired lists the required sources absent from observations.
func (v Validator) MissingRequired(observations []model.Observation) []string {
	present := make(map[string]struct{}, len(observations))
	for _, o := range observations {
		if o.Valid() {
			present[o.Source] = struct{}{}
		}
	}
	var missing []string
	for _, s := range v.RequiredSources {
		if _, ok := present[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}

// CheckRequired wraps MissingRequired into a validation error.
func (v Validator) CheckRequired(observations []model.Observation) error {
	missing := v.MissingRequired(observations)
	if len(missing) == 0 {
		return nil
	}
	return &model.ValidationError{
		Reason: model.ReasonMissingRequired,
		Detail: fmt.Sprintf("missing required sources %v", missing),
	}
}
