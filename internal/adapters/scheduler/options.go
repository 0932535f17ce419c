package scheduler

import (
	"time"

	"github.com/okian/halom/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithSeconds enables the optional leading seconds field in specs.
func WithSeconds() Option {
	return func(s *Scheduler) { s.seconds = true }
}

// WithLocation sets the time zone schedules are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}
