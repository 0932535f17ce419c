package service

import (
	"github.com/okian/halom/internal/adapters/alert"
	"github.com/okian/halom/internal/adapters/bundle"
	"github.com/okian/halom/internal/adapters/chain"
	"github.com/okian/halom/internal/adapters/repository"
	"github.com/okian/halom/internal/adapters/source"
	"github.com/okian/halom/internal/domain/calculator"
	"github.com/okian/halom/internal/domain/consensus"
	"github.com/okian/halom/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the state store. It is closed by Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSources sets the source manager.
func WithSources(m *source.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.sources = m
		}
	}
}

// WithConsensus sets the aggregation config.
func WithConsensus(cfg consensus.Config) Option {
	return func(s *Service) {
		s.aggregation = cfg
	}
}

// WithValidator sets the consensus value bounds.
func WithValidator(v consensus.Validator) Option {
	return func(s *Service) {
		s.validator = v
	}
}

// WithNodeConfig sets the node round config.
func WithNodeConfig(cfg consensus.NodeConfig) Option {
	return func(s *Service) {
		s.nodeConfig = cfg
	}
}

// WithNodes registers nodes at Start with their allowed deviation in percent.
func WithNodes(deviations map[string]float64) Option {
	return func(s *Service) {
		for id, d := range deviations {
			s.nodeDeviations[id] = d
		}
	}
}

// WithCalculator sets the governance calculator.
func WithCalculator(c *calculator.Calculator) Option {
	return func(s *Service) {
		if c != nil {
			s.calc = c
		}
	}
}

// WithSubmitter sets where accepted values are sent.
func WithSubmitter(sub chain.Submitter) Option {
	return func(s *Service) {
		if sub != nil {
			s.submitter = sub
		}
	}
}

// WithAlerter sets the failure alerter.
func WithAlerter(a alert.Alerter) Option {
	return func(s *Service) {
		if a != nil {
			s.alerter = a
		}
	}
}

// WithBundleProvider enables HOI cycles.
func WithBundleProvider(p bundle.Provider) Option {
	return func(s *Service) {
		s.bundles = p
	}
}

// WithFailureThreshold sets how many consecutive failed cycles trigger an alert.
func WithFailureThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithDedupeSize sets the size of the submission deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithHistoryLimit caps the history endpoint page size.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}
