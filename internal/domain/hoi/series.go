package hoi

import (
	"fmt"
	"sort"
	"time"

	"github.com/okian/halom/internal/domain/model"
)

// BaseYear is the year the index is normalized to.
const BaseYear = 2020

// Indicator names used by Assemble.
const (
	IndicatorAIC     = "AIC"
	IndicatorMinWage = "MinWage"
	IndicatorEmp     = "Emp"
	IndicatorHous    = "Hous"
	IndicatorSave    = "Save"
	IndicatorGini    = "Gini"
)

// Indicators lists the six indicator names.
var Indicators = []string{
	IndicatorAIC, IndicatorMinWage, IndicatorEmp, IndicatorHous, IndicatorSave, IndicatorGini,
}

// Point is one dated value of an indicator.
type Point struct {
	At    time.Time `json:"at" koanf:"at"`
	Value float64   `json:"value" koanf:"value"`
}

// Series is a time series of an indicator.
type Series []Point

func (s Series) sorted() Series {
	out := append(Series(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// ValueForYear returns the last value dated within year. When the year has
// no data it falls back to the latest value. ok is false for an empty
// series.
func ValueForYear(s Series, year int) (value float64, ok bool) {
	if len(s) == 0 {
		return 0, false
	}
	sorted := s.sorted()
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].At.Year() == year {
			return sorted[i].Value, true
		}
	}
	return sorted[len(sorted)-1].Value, true
}

// LatestYear returns the year of the newest point.
func LatestYear(s Series) (int, bool) {
	if len(s) == 0 {
		return 0, false
	}
	sorted := s.sorted()
	return sorted[len(sorted)-1].At.Year(), true
}

// Assemble builds a bundle from indicator series. A zero current year means
// the latest year of the AIC series.
func Assemble(series map[string]Series, current, base int) (Bundle, error) {
	if base == 0 {
		base = BaseYear
	}
	if current == 0 {
		year, ok := LatestYear(series[IndicatorAIC])
		if !ok {
			return nil, fmt.Errorf("%w: AIC series is empty, cannot determine current year", model.ErrInputIncomplete)
		}
		current = year
	}

	b := make(Bundle, len(Keys))
	var missing []string
	for _, name := range Indicators {
		baseKey := fmt.Sprintf("%s_%d", name, BaseYear)
		curKey := name + "_t"
		if v, ok := ValueForYear(series[name], base); ok {
			b[baseKey] = v
		} else {
			missing = append(missing, baseKey)
		}
		if v, ok := ValueForYear(series[name], current); ok {
			b[curKey] = v
		} else {
			missing = append(missing, curKey)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &model.InputIncompleteError{Missing: missing}
	}
	return b, nil
}
