package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/halom/internal/domain/model"
)

const (
	pgMaxConns        = 10
	pgMinConns        = 1
	pgMaxConnLifetime = time.Hour
	pgMaxConnIdleTime = 30 * time.Minute
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS source_cache (
		source      TEXT PRIMARY KEY,
		value       DOUBLE PRECISION NOT NULL,
		weight      DOUBLE PRECISION NOT NULL,
		reliability DOUBLE PRECISION NOT NULL,
		fetched_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS node_reputation (
		node_id    TEXT PRIMARY KEY,
		score      INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS consensus_history (
		id           BIGSERIAL PRIMARY KEY,
		cycle_id     TEXT NOT NULL,
		value        DOUBLE PRECISION NOT NULL,
		source_count INTEGER NOT NULL,
		sources      TEXT[] NOT NULL,
		accepted_at  TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresStore persists state in PostgreSQL through a pgx pool, so that
// several feeder instances can share reputations and history.
type PostgresStore struct {
	pool        *pgxpool.Pool
	historySize int
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	s := newSettings(opts)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MaxConns = pgMaxConns
	cfg.MinConns = pgMinConns
	cfg.MaxConnLifetime = pgMaxConnLifetime
	cfg.MaxConnIdleTime = pgMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{pool: pool, historySize: s.historySize}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetObservation implements CacheStore.
func (p *PostgresStore) GetObservation(ctx context.Context, source string) (model.Observation, bool, error) {
	o := model.Observation{Source: source}
	err := p.pool.QueryRow(ctx,
		`SELECT value, weight, reliability, fetched_at FROM source_cache WHERE source = $1`, source,
	).Scan(&o.Value, &o.Weight, &o.Reliability, &o.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Observation{}, false, nil
	}
	if err != nil {
		return model.Observation{}, false, fmt.Errorf("querying source cache: %w", err)
	}
	return o, true, nil
}

// SetObservation implements CacheStore.
func (p *PostgresStore) SetObservation(ctx context.Context, o model.Observation) error {
	if o.Source == "" {
		return fmt.Errorf("%w: observation without source", ErrInvalidRecord)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO source_cache (source, value, weight, reliability, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source) DO UPDATE SET
			value = EXCLUDED.value,
			weight = EXCLUDED.weight,
			reliability = EXCLUDED.reliability,
			fetched_at = EXCLUDED.fetched_at`,
		o.Source, o.Value, o.Weight, o.Reliability, o.Timestamp)
	if err != nil {
		return fmt.Errorf("upserting source cache: %w", err)
	}
	return nil
}

// EvictObservation implements CacheStore.
func (p *PostgresStore) EvictObservation(ctx context.Context, source string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM source_cache WHERE source = $1`, source); err != nil {
		return fmt.Errorf("evicting source cache: %w", err)
	}
	return nil
}

// GetReputation implements ReputationStore.
func (p *PostgresStore) GetReputation(ctx context.Context, nodeID string) (int, bool, error) {
	var score int
	err := p.pool.QueryRow(ctx, `SELECT score FROM node_reputation WHERE node_id = $1`, nodeID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying reputation: %w", err)
	}
	return score, true, nil
}

// SetReputation implements ReputationStore.
func (p *PostgresStore) SetReputation(ctx context.Context, nodeID string, score int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO node_reputation (node_id, score, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (node_id) DO UPDATE SET score = EXCLUDED.score, updated_at = now()`,
		nodeID, score)
	if err != nil {
		return fmt.Errorf("upserting reputation: %w", err)
	}
	return nil
}

// ListReputations implements ReputationStore.
func (p *PostgresStore) ListReputations(ctx context.Context) ([]model.NodeReputation, error) {
	rows, err := p.pool.Query(ctx, `SELECT node_id, score FROM node_reputation ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("listing reputations: %w", err)
	}
	defer rows.Close()

	var out []model.NodeReputation
	for rows.Next() {
		var r model.NodeReputation
		if err := rows.Scan(&r.NodeID, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning reputation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendAccepted implements HistoryStore.
func (p *PostgresStore) AppendAccepted(ctx context.Context, a model.Accepted) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sources := a.Sources
	if sources == nil {
		sources = []string{}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO consensus_history (cycle_id, value, source_count, sources, accepted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.CycleID, a.Value, a.SourceCount, sources, a.AcceptedAt); err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM consensus_history WHERE id NOT IN (
			SELECT id FROM consensus_history ORDER BY id DESC LIMIT $1
		)`, p.historySize); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	return tx.Commit(ctx)
}

// LatestAccepted implements HistoryStore.
func (p *PostgresStore) LatestAccepted(ctx context.Context) (model.Accepted, bool, error) {
	list, err := p.RecentAccepted(ctx, 1)
	if err != nil || len(list) == 0 {
		return model.Accepted{}, false, err
	}
	return list[0], true, nil
}

// RecentAccepted implements HistoryStore.
func (p *PostgresStore) RecentAccepted(ctx context.Context, n int) ([]model.Accepted, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	rows, err := p.pool.Query(ctx, `
		SELECT cycle_id, value, source_count, sources, accepted_at
		FROM consensus_history ORDER BY id DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []model.Accepted
	for rows.Next() {
		var a model.Accepted
		if err := rows.Scan(&a.CycleID, &a.Value, &a.SourceCount, &a.Sources, &a.AcceptedAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Truncate removes every row. It exists for tests and operator resets.
func (p *PostgresStore) Truncate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE source_cache, node_reputation, consensus_history RESTART IDENTITY`)
	return err
}
