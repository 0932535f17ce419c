package repository

import "github.com/okian/halom/pkg/logger"

// DefaultHistorySize is the number of accepted values kept.
const DefaultHistorySize = 30

type settings struct {
	historySize int
	log         logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{historySize: DefaultHistorySize}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option applies a configuration option to a store.
type Option func(*settings)

// WithHistorySize sets how many accepted values are kept.
func WithHistorySize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithLogger sets the logger used by persistent backends.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}
