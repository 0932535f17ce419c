// Package repository persists the oracle's process-wide state: the
// per-source observation cache, node reputations and the history of
// accepted consensus values.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/halom/internal/domain/model"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// CacheStore holds the newest observation per source.
type CacheStore interface {
	GetObservation(ctx context.Context, source string) (model.Observation, bool, error)
	SetObservation(ctx context.Context, o model.Observation) error
	EvictObservation(ctx context.Context, source string) error
}

// ReputationStore holds node reputation scores.
type ReputationStore interface {
	GetReputation(ctx context.Context, nodeID string) (int, bool, error)
	SetReputation(ctx context.Context, nodeID string, score int) error
	ListReputations(ctx context.Context) ([]model.NodeReputation, error)
}

// HistoryStore keeps the most recent accepted consensus values.
type HistoryStore interface {
	AppendAccepted(ctx context.Context, a model.Accepted) error
	// LatestAccepted returns the newest entry; ok is false when empty.
	LatestAccepted(ctx context.Context) (model.Accepted, bool, error)
	// RecentAccepted returns up to n entries, newest first.
	RecentAccepted(ctx context.Context, n int) ([]model.Accepted, error)
}

// Store combines every state store of a backend.
type Store interface {
	CacheStore
	ReputationStore
	HistoryStore
	Close() error
}

// Open creates a store for backend. target is the data directory for
// badger and the connection string for postgres; memory ignores it.
func Open(ctx context.Context, backend, target string, opts ...Option) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		return NewMemoryStore(opts...), nil
	case BackendBadger:
		return NewBadgerStore(target, opts...)
	case BackendPostgres:
		return NewPostgresStore(ctx, target, opts...)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
}
