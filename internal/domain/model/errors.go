package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds shared by the oracle core. Callers select retry,
// alert or abort behavior with errors.Is.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrSourceFetch         = errors.New("source fetch failed")
	ErrInsufficientSources = errors.New("insufficient sources")
	ErrValidation          = errors.New("validation failed")
	ErrInputIncomplete     = errors.New("input incomplete")
	ErrInvalidInput        = errors.New("invalid input")
)

// Validation failure reasons.
const (
	ReasonOutOfRange          = "out_of_range"
	ReasonExcessiveChange     = "excessive_change"
	ReasonMissingRequired     = "missing_required_sources"
	ReasonUnknownNode         = "unknown_node"
	ReasonExcessiveDivergence = "excessive_deviation"
)

// SourceFetchError describes a source that produced no value after all retries.
type SourceFetchError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Source, e.Attempts, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// Is matches ErrSourceFetch.
func (e *SourceFetchError) Is(target error) bool { return target == ErrSourceFetch }

// ValidationError rejects a candidate value. Prior state is left untouched.
type ValidationError struct {
	Reason string
	Value  float64
	Limit  float64
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("validation failed (%s): value %g, limit %g", e.Reason, e.Value, e.Limit)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InputIncompleteError lists the keys missing from an input bundle.
type InputIncompleteError struct {
	Missing []string
}

func (e *InputIncompleteError) Error() string {
	return "input incomplete, missing: " + strings.Join(e.Missing, ", ")
}

// Is matches ErrInputIncomplete.
func (e *InputIncompleteError) Is(target error) bool { return target == ErrInputIncomplete }

// ReasonOf returns the validation reason carried by err, or "".
func ReasonOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
