package source

import (
	"context"
	"time"

	"github.com/okian/halom/internal/adapters/repository"
	"github.com/okian/halom/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) {
		if f != nil {
			m.fetcher = f
		}
	}
}

// WithCache sets the observation cache. Defaults to an in-memory store.
func WithCache(c repository.CacheStore) Option {
	return func(m *Manager) {
		if c != nil {
			m.cache = c
		}
	}
}

// WithBackoffBase sets the base delay; attempt k waits base * 2^k.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.backoffBase = d
		}
	}
}

// WithWorkers sets the fan-out width of FetchAll.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}
