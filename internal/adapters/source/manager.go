// Package source fetches indicator values from configured upstream APIs,
// caches the latest observation per source and fans fetches out over the
// worker pool.
package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/okian/halom/internal/adapters/mq/queue"
	"github.com/okian/halom/internal/adapters/mq/worker"
	"github.com/okian/halom/internal/adapters/repository"
	"github.com/okian/halom/internal/domain/consensus"
	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
	"github.com/okian/halom/pkg/metrics"
)

// Defaults applied to source configs that leave fields empty.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultRetries     = 3
	DefaultWeight      = 1.0
	DefaultReliability = 100.0
	DefaultBackoffBase = time.Second
)

// Config describes one upstream API.
type Config struct {
	Name         string            `koanf:"name"`
	Endpoint     string            `koanf:"endpoint"`
	Method       string            `koanf:"method"`
	Headers      map[string]string `koanf:"headers"`
	Params       map[string]string `koanf:"params"`
	ResponsePath string            `koanf:"response_path"`
	Weight       float64           `koanf:"weight"`
	Reliability  float64           `koanf:"reliability"`
	Timeout      time.Duration     `koanf:"timeout"`
	Retries      int               `koanf:"retries"`
	// CacheTTL is the freshness window of a cached value; zero uses Timeout.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

func (c Config) withDefaults() Config {
	if c.Method == "" {
		c.Method = "GET"
	}
	if c.Weight == 0 {
		c.Weight = DefaultWeight
	}
	if c.Reliability == 0 {
		c.Reliability = DefaultReliability
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = c.Timeout
	}
	return c
}

// Validate checks a single source definition.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: source name is empty", model.ErrConfiguration)
	case c.Endpoint == "":
		return fmt.Errorf("%w: source %s has no endpoint", model.ErrConfiguration, c.Name)
	case c.Weight < 0 || math.IsNaN(c.Weight) || c.Weight > consensus.MaxWeight:
		return fmt.Errorf("%w: source %s weight %v", model.ErrConfiguration, c.Name, c.Weight)
	case c.Reliability < 0 || c.Reliability > model.MaxReliability:
		return fmt.Errorf("%w: source %s reliability %v", model.ErrConfiguration, c.Name, c.Reliability)
	case c.Retries < 0:
		return fmt.Errorf("%w: source %s retries %d", model.ErrConfiguration, c.Name, c.Retries)
	}
	return nil
}

func (c Config) request() Request {
	return Request{
		Endpoint: c.Endpoint,
		Method:   c.Method,
		Headers:  c.Headers,
		Params:   c.Params,
		Timeout:  c.Timeout,
	}
}

// Batch is the outcome of fetching every configured source.
type Batch struct {
	CycleID      string
	Observations []model.Observation
	Failures     map[string]error
}

// Manager owns the source definitions, the fetcher and the cache.
type Manager struct {
	sources map[string]Config
	names   []string

	fetcher     Fetcher
	cache       repository.CacheStore
	backoffBase time.Duration
	workers     int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	log logger.Logger
}

// NewManager validates the source list and builds a manager.
func NewManager(sources []Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		sources:     make(map[string]Config, len(sources)),
		backoffBase: DefaultBackoffBase,
		now:         time.Now,
		sleep:       sleepContext,
		log:         logger.Get().Named("source"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fetcher == nil {
		m.fetcher = NewHTTPFetcher(nil)
	}
	if m.cache == nil {
		m.cache = repository.NewMemoryStore()
	}

	for _, s := range sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m.sources[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate source %s", model.ErrConfiguration, s.Name)
		}
		m.sources[s.Name] = s.withDefaults()
		m.names = append(m.names, s.Name)
	}
	sort.Strings(m.names)
	if m.workers <= 0 {
		m.workers = len(m.names)
	}
	return m, nil
}

// Sources returns the configured source names, sorted.
func (m *Manager) Sources() []string {
	return append([]string(nil), m.names...)
}

// Weights returns the configured weight of every source.
func (m *Manager) Weights() map[string]float64 {
	out := make(map[string]float64, len(m.sources))
	for name, s := range m.sources {
		out[name] = s.Weight
	}
	return out
}

// FetchSource returns a fresh value for one source, from cache when the
// cached observation is younger than the freshness window.
func (m *Manager) FetchSource(ctx context.Context, name string) (model.Observation, error) {
	cfg, ok := m.sources[name]
	if !ok {
		return model.Observation{}, fmt.Errorf("%w: %w %s", model.ErrConfiguration, ErrUnknownSource, name)
	}

	cached, found, err := m.cache.GetObservation(ctx, name)
	if err != nil {
		m.log.Warn(ctx, "cache read failed", logger.String("source", name), logger.Error(err))
	} else if found && cached.Fresh(m.now(), cfg.CacheTTL) {
		metrics.RecordCacheHit(name)
		return cached, nil
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < cfg.Retries; attempt++ {
		attempts++
		value, err := m.attempt(ctx, cfg)
		if err == nil {
			obs := model.Observation{
				Source:      name,
				Value:       value,
				Timestamp:   m.now(),
				Weight:      cfg.Weight,
				Reliability: cfg.Reliability,
			}
			if err := m.cache.SetObservation(ctx, obs); err != nil {
				m.log.Warn(ctx, "cache write failed", logger.String("source", name), logger.Error(err))
			}
			metrics.UpdateSourceValue(name, value)
			return obs, nil
		}

		lastErr = err
		m.log.Warn(ctx, "source attempt failed",
			logger.String("source", name),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
		if attempt < cfg.Retries-1 {
			if err := m.sleep(ctx, m.backoffBase*time.Duration(1<<attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	return model.Observation{}, &model.SourceFetchError{Source: name, Attempts: attempts, Err: lastErr}
}

func (m *Manager) attempt(ctx context.Context, cfg Config) (float64, error) {
	start := m.now()
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	data, err := m.fetcher.Fetch(actx, cfg.request())
	if err == nil {
		var v float64
		v, err = ExtractPath(data, cfg.ResponsePath)
		if err == nil {
			metrics.RecordSourceFetch(cfg.Name, true, float64(m.now().Sub(start).Milliseconds()))
			return v, nil
		}
	}
	metrics.RecordSourceFetch(cfg.Name, false, float64(m.now().Sub(start).Milliseconds()))
	return 0, err
}

// FetchAll fetches every configured source through the worker pool and
// returns the sources that produced a valid number, sorted by name.
func (m *Manager) FetchAll(ctx context.Context, cycleID string) (*Batch, error) {
	batch := &Batch{CycleID: cycleID, Failures: map[string]error{}}
	if len(m.names) == 0 {
		return batch, nil
	}

	q := queue.NewInMemoryQueue(queue.WithCapacity(len(m.names)))
	var mu sync.Mutex
	handler := worker.HandlerFunc(func(ctx context.Context, job worker.Job) error {
		obs, err := m.FetchSource(ctx, job.Source)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			batch.Failures[job.Source] = err
			return err
		}
		if !obs.Valid() {
			err = fmt.Errorf("%w: %s", ErrNotNumeric, job.Source)
			batch.Failures[job.Source] = err
			return err
		}
		batch.Observations = append(batch.Observations, obs)
		return nil
	})

	workers := m.workers
	if workers > len(m.names) {
		workers = len(m.names)
	}
	pool := worker.NewPool(workers, q, handler)
	pool.Start(ctx)

	for _, name := range m.names {
		if !q.Enqueue(ctx, model.FetchJob{CycleID: cycleID, Source: name}) {
			batch.Failures[name] = fmt.Errorf("enqueue %s: queue rejected job", name)
		}
	}
	_ = q.Close()

	if err := pool.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch cycle %s: %w", cycleID, err)
	}

	sort.Slice(batch.Observations, func(i, j int) bool {
		return batch.Observations[i].Source < batch.Observations[j].Source
	})
	return batch, nil
}

// Cached returns the cached observation of every source that has one.
func (m *Manager) Cached(ctx context.Context) ([]model.Observation, error) {
	out := make([]model.Observation, 0, len(m.names))
	for _, name := range m.names {
		o, ok, err := m.cache.GetObservation(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// Evict drops the cached value of a source.
func (m *Manager) Evict(ctx context.Context, name string) error {
	if _, ok := m.sources[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return m.cache.EvictObservation(ctx, name)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsFetchError reports whether err is a per-source fetch failure.
func IsFetchError(err error) bool {
	return errors.Is(err, model.ErrSourceFetch)
}
