// Package bundle loads HOI input bundles from YAML files.
//
// A file either lists the twelve bundle values directly:
//
//	values:
//	  AIC_t: 118.2
//	  AIC_2020: 100
//	  ...
//
// or carries indicator series that are reduced to current and base year
// values:
//
//	current_year: 2024
//	series:
//	  AIC:
//	    - {year: 2020, month: 12, value: 100}
//	    - {year: 2024, month: 6, value: 118.2}
package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/halom/internal/domain/hoi"
)

// ErrEmptyBundle is returned when a file has neither values nor series.
var ErrEmptyBundle = errors.New("bundle file has no values or series")

// Provider yields the HOI input bundle for the current period.
type Provider interface {
	Bundle(ctx context.Context) (hoi.Bundle, error)
}

type point struct {
	Year  int     `koanf:"year"`
	Month int     `koanf:"month"`
	Day   int     `koanf:"day"`
	Value float64 `koanf:"value"`
}

type document struct {
	CurrentYear int                `koanf:"current_year"`
	BaseYear    int                `koanf:"base_year"`
	Values      map[string]float64 `koanf:"values"`
	Series      map[string][]point `koanf:"series"`
}

// FileProvider reads a bundle file on every call, so edits are picked up
// by the next cycle.
type FileProvider struct {
	path string
}

// NewFileProvider returns a provider for the YAML file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the file path.
func (p *FileProvider) Path() string { return p.path }

func (p *FileProvider) Bundle(ctx context.Context) (hoi.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(p.path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", p.path, err)
	}
	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", p.path, err)
	}
	return doc.bundle()
}

func (d document) bundle() (hoi.Bundle, error) {
	if len(d.Values) > 0 {
		b := make(hoi.Bundle, len(d.Values))
		for k, v := range d.Values {
			b[k] = v
		}
		return b, nil
	}
	if len(d.Series) == 0 {
		return nil, ErrEmptyBundle
	}

	series := make(map[string]hoi.Series, len(d.Series))
	for name, pts := range d.Series {
		s := make(hoi.Series, 0, len(pts))
		for _, pt := range pts {
			s = append(s, hoi.Point{At: pt.time(), Value: pt.Value})
		}
		series[name] = s
	}
	return hoi.Assemble(series, d.CurrentYear, d.BaseYear)
}

func (p point) time() time.Time {
	month, day := p.Month, p.Day
	if month == 0 {
		month = 12
	}
	if day == 0 {
		day = 1
	}
	return time.Date(p.Year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// Static always returns the same bundle.
type Static hoi.Bundle

func (s Static) Bundle(ctx context.Context) (hoi.Bundle, error) {
	out := make(hoi.Bundle, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}
