// Package hoi computes the Halom Oracle Index from current and base-year
// economic indicators.
package hoi

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/halom/internal/domain/model"
)

// Bundle keys.
const (
	KeyAICCurrent     = "AIC_t"
	KeyAICBase        = "AIC_2020"
	KeyMinWageCurrent = "MinWage_t"
	KeyMinWageBase    = "MinWage_2020"
	KeyEmpCurrent     = "Emp_t"
	KeyEmpBase        = "Emp_2020"
	KeyHousCurrent    = "Hous_t"
	KeyHousBase       = "Hous_2020"
	KeySaveCurrent    = "Save_t"
	KeySaveBase       = "Save_2020"
	KeyGiniCurrent    = "Gini_t"
	KeyGiniBase       = "Gini_2020"
)

// Keys lists every key a complete bundle carries.
var Keys = []string{
	KeyAICCurrent, KeyAICBase,
	KeyMinWageCurrent, KeyMinWageBase,
	KeyEmpCurrent, KeyEmpBase,
	KeyHousCurrent, KeyHousBase,
	KeySaveCurrent, KeySaveBase,
	KeyGiniCurrent, KeyGiniBase,
}

// Sub-index exponents.
const (
	wageExp       = 0.4
	employmentExp = 0.3
	savingsExp    = 0.3

	consumptionExp = 0.7
	housingExp     = 0.3

	opportunityExp = 0.50
	costExp        = -0.35
	equalityExp    = 0.15
)

// Bundle maps indicator keys to values.
type Bundle map[string]float64

// Missing returns the absent or NaN keys in sorted order.
func (b Bundle) Missing() []string {
	var missing []string
	for _, k := range Keys {
		v, ok := b[k]
		if !ok || math.IsNaN(v) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Ratios are the current values relative to the base year.
type Ratios struct {
	A float64 `json:"consumption"`
	M float64 `json:"wage"`
	E float64 `json:"employment"`
	H float64 `json:"housing"`
	S float64 `json:"savings"`
	G float64 `json:"equality"`
}

// SubIndices are the intermediate composites.
type SubIndices struct {
	Y float64 `json:"opportunity"`
	C float64 `json:"cost"`
	Q float64 `json:"equality"`
}

// Result is a computed index with its components.
type Result struct {
	HOI        float64    `json:"hoi"`
	Ratios     Ratios     `json:"ratios"`
	SubIndices SubIndices `json:"sub_indices"`
}

// Calculate returns only the index value of Compute.
func Calculate(b Bundle) (float64, error) {
	r, err := Compute(b)
	if err != nil {
		return 0, err
	}
	return r.HOI, nil
}

// Compute derives the index from a complete bundle. Gini values above 1
// are read as percentages.
func Compute(b Bundle) (Result, error) {
	if missing := b.Missing(); len(missing) > 0 {
		return Result{}, &model.InputIncompleteError{Missing: missing}
	}

	giniNow := normalizeGini(b[KeyGiniCurrent])
	giniBase := normalizeGini(b[KeyGiniBase])

	var r Result
	var err error
	ratio := func(cur, base string) float64 {
		if err != nil {
			return 0
		}
		var v float64
		v, err = safeRatio(cur, b[cur], base, b[base])
		return v
	}
	r.Ratios.A = ratio(KeyAICCurrent, KeyAICBase)
	r.Ratios.M = ratio(KeyMinWageCurrent, KeyMinWageBase)
	r.Ratios.E = ratio(KeyEmpCurrent, KeyEmpBase)
	r.Ratios.H = ratio(KeyHousCurrent, KeyHousBase)
	r.Ratios.S = ratio(KeySaveCurrent, KeySaveBase)
	if err != nil {
		return Result{}, err
	}
	if r.Ratios.G, err = safeRatio(KeyGiniCurrent, 1-giniNow, KeyGiniBase, 1-giniBase); err != nil {
		return Result{}, err
	}

	r.SubIndices.Y = math.Pow(r.Ratios.M, wageExp) *
		math.Pow(r.Ratios.E, employmentExp) *
		math.Pow(r.Ratios.S, savingsExp)
	r.SubIndices.C = math.Pow(r.Ratios.A, consumptionExp) * math.Pow(r.Ratios.H, housingExp)
	r.SubIndices.Q = r.Ratios.G

	r.HOI = math.Pow(r.SubIndices.Y, opportunityExp) *
		math.Pow(r.SubIndices.C, costExp) *
		math.Pow(r.SubIndices.Q, equalityExp)
	return r, nil
}

func normalizeGini(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// safeRatio rejects ratios the fractional powers cannot take.
func safeRatio(curKey string, cur float64, baseKey string, base float64) (float64, error) {
	if base == 0 {
		return 0, fmt.Errorf("%w: %s is zero", model.ErrInvalidInput, baseKey)
	}
	v := cur / base
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s/%s ratio %g is not positive", model.ErrInvalidInput, curKey, baseKey, v)
	}
	return v, nil
}
