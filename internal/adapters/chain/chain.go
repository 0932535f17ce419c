// Package chain hands accepted values to the on-chain oracle. Signing and
// broadcasting live behind Submitter; this package only fixes the payload
// and its fixed-point scaling.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
	"github.com/okian/halom/pkg/metrics"
)

// ScaleFactor converts a float value to the oracle's integer representation.
const ScaleFactor = 1e9

// Submission kinds.
const (
	KindConsensus = "consensus"
	KindHOI       = "hoi"
	KindNodeRound = "node_round"
)

// ErrRejected is returned when the relay refuses a submission.
var ErrRejected = errors.New("submission rejected")

// Submission is one value headed for the chain.
type Submission struct {
	ID      uuid.UUID `json:"id"`
	Kind    string    `json:"kind"`
	CycleID string    `json:"cycle_id"`
	Value   float64   `json:"value"`
	Scaled  int64     `json:"scaled"`
	At      time.Time `json:"at"`
}

// Receipt acknowledges a submission.
type Receipt struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Reference    string    `json:"reference"`
	At           time.Time `json:"at"`
}

// Submitter delivers submissions to the chain side.
type Submitter interface {
	Submit(ctx context.Context, s Submission) (Receipt, error)
}

// Scale multiplies v by ScaleFactor and rounds to the nearest integer.
func Scale(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: cannot scale %v", model.ErrInvalidInput, v)
	}
	scaled := math.Round(v * ScaleFactor)
	if scaled >= math.MaxInt64 || scaled < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v overflows int64 after scaling", model.ErrInvalidInput, v)
	}
	return int64(scaled), nil
}

// NewSubmission builds a scaled submission with a fresh ID.
func NewSubmission(kind, cycleID string, value float64) (Submission, error) {
	scaled, err := Scale(value)
	if err != nil {
		return Submission{}, err
	}
	return Submission{
		ID:      uuid.New(),
		Kind:    kind,
		CycleID: cycleID,
		Value:   value,
		Scaled:  scaled,
		At:      time.Now().UTC(),
	}, nil
}

// LogSubmitter logs submissions and keeps the most recent ones in memory.
// It serves dry runs and tests.
type LogSubmitter struct {
	mu   sync.Mutex
	sent []Submission
	keep int
	log  logger.Logger
}

// NewLogSubmitter keeps up to keep submissions; keep <= 0 keeps 100.
func NewLogSubmitter(keep int) *LogSubmitter {
	if keep <= 0 {
		keep = 100
	}
	return &LogSubmitter{keep: keep, log: logger.Get().Named("submitter")}
}

func (s *LogSubmitter) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	s.mu.Lock()
	s.sent = append(s.sent, sub)
	if len(s.sent) > s.keep {
		s.sent = s.sent[len(s.sent)-s.keep:]
	}
	s.mu.Unlock()

	s.log.Info(ctx, "submission",
		logger.String("id", sub.ID.String()),
		logger.String("kind", sub.Kind),
		logger.String("cycle_id", sub.CycleID),
		logger.Float64("value", sub.Value),
		logger.Any("scaled", sub.Scaled),
	)
	metrics.RecordSubmission(sub.Kind, true)
	return Receipt{SubmissionID: sub.ID, Reference: "log:" + sub.ID.String(), At: time.Now().UTC()}, nil
}

// Sent returns the retained submissions, oldest first.
func (s *LogSubmitter) Sent() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.sent...)
}

// HTTPSubmitter posts submissions as JSON to a signing relay.
type HTTPSubmitter struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPSubmitter returns a relay submitter. token is sent as a bearer token when set.
func NewHTTPSubmitter(url, token string, client *http.Client) *HTTPSubmitter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSubmitter{url: url, token: token, client: client}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordSubmission(sub.Kind, false)
		return Receipt{}, fmt.Errorf("post submission: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.RecordSubmission(sub.Kind, false)
		return Receipt{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var r Receipt
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		metrics.RecordSubmission(sub.Kind, false)
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	if r.SubmissionID == uuid.Nil {
		r.SubmissionID = sub.ID
	}
	metrics.RecordSubmission(sub.Kind, true)
	return r, nil
}
