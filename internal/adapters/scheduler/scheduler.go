// Package scheduler runs the oracle's periodic jobs on cron schedules.
// Overlapping runs of the same job are skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/halom/pkg/logger"
)

// ErrDuplicateJob is returned when a job name is registered twice.
var ErrDuplicateJob = errors.New("job already scheduled")

// Func is the body of a scheduled job.
type Func func(ctx context.Context) error

// Entry describes a scheduled job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type job struct {
	spec string
	id   cron.EntryID
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]job
	mu     sync.RWMutex

	seconds  bool
	location *time.Location
	log      logger.Logger
}

// New builds a scheduler. Jobs run with a context cancelled by Stop.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]job),
		location: time.UTC,
		log:      logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{log: s.log}
	copts := []cron.Option{
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	}
	if s.seconds {
		copts = append(copts, cron.WithSeconds())
	}
	s.cron = cron.New(copts...)
	return s
}

// Add schedules fn under name using a cron spec or descriptor such as "@every 1h".
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := fn(s.ctx); err != nil {
			s.log.Error(s.ctx, "scheduled job failed",
				logger.String("job", name),
				logger.Duration("took", time.Since(start)),
				logger.Error(err),
			)
			return
		}
		s.log.Debug(s.ctx, "scheduled job finished",
			logger.String("job", name),
			logger.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = job{spec: spec, id: id}
	s.log.Info(s.ctx, "job scheduled", logger.String("job", name), logger.String("spec", spec))
	return nil
}

// Remove unschedules a job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.id)
		delete(s.jobs, name)
	}
}

// Entries lists scheduled jobs sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.jobs))
	for name, j := range s.jobs {
		e := s.cron.Entry(j.id)
		out = append(out, Entry{Name: name, Spec: j.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs' context and waits for them to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(context.Background(), msg, pairs(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(context.Background(), msg, append(pairs(keysAndValues), logger.Error(err))...)
}

func pairs(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
