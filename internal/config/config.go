// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Loading layers defaults, an optional YAML file and HALOM_ env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"time"

	"github.com/okian/halom/internal/adapters/source"
	"github.com/okian/halom/internal/domain/consensus"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format"`

	// LogFile, when set, also writes logs to a rotated file.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Schedule is the cron spec of the consensus update cycle.
	Schedule string `koanf:"schedule"`

	// HOISchedule is the cron spec of the HOI cycle. It runs only when
	// BundleFile is set.
	HOISchedule string `koanf:"hoi_schedule"`

	// BundleFile points to the YAML HOI bundle.
	BundleFile string `koanf:"bundle_file"`

	// WorkerCount bounds concurrent source fetches; 0 fetches all at once.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds remembered (round, node) submissions.
	DedupeSize int `koanf:"dedupe_size"`

	// RootPower is the root degree of governance weighting.
	RootPower int `koanf:"root_power"`

	// BackoffBase is the first retry delay of a source fetch.
	BackoffBase time.Duration `koanf:"backoff_base"`

	Sources    []source.Config `koanf:"sources"`
	Consensus  Consensus       `koanf:"consensus"`
	Validation Validation      `koanf:"validation"`
	Nodes      Nodes           `koanf:"nodes"`
	Alert      Alert           `koanf:"alert"`
	Store      Store           `koanf:"store"`
	Submitter  Submitter       `koanf:"submitter"`
}

// Consensus configures source aggregation.
type Consensus struct {
	Strategy         string             `koanf:"strategy"`
	MinSources       int                `koanf:"min_sources"`
	MaxDeviation     float64            `koanf:"max_deviation"`
	OutlierThreshold float64            `koanf:"outlier_threshold"`
	Weights          map[string]float64 `koanf:"weights"`
}

// Validation bounds accepted consensus values.
type Validation struct {
	MinValue        float64  `koanf:"min_value"`
	MaxValue        float64  `koanf:"max_value"`
	MaxChange       float64  `koanf:"max_change"`
	RequiredSources []string `koanf:"required_sources"`
}

// Nodes configures multi-node rounds.
type Nodes struct {
	MinNodes     int                `koanf:"min_nodes"`
	Weighted     bool               `koanf:"weighted"`
	MaxDeviation float64            `koanf:"max_deviation"`
	Known        []string           `koanf:"known"`
	Deviations   map[string]float64 `koanf:"deviations"`
}

// Alert configures failure alerting.
type Alert struct {
	// FailureThreshold is the number of consecutive failed cycles that
	// triggers an alert.
	FailureThreshold int    `koanf:"failure_threshold"`
	SlackWebhook     string `koanf:"slack_webhook"`
}

// Store selects the persistence backend.
type Store struct {
	Backend     string `koanf:"backend"`
	Path        string `koanf:"path"`
	DSN         string `koanf:"dsn"`
	HistorySize int    `koanf:"history_size"`
}

// Submitter selects where accepted values are sent.
type Submitter struct {
	// URL of a signing relay; empty logs submissions only.
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Addr:        ":9080",
		Schedule:    "@every 1h",
		HOISchedule: "@daily",
		WorkerCount: 0,
		DedupeSize:  10_000,
		RootPower:   4,
		BackoffBase: time.Second,
		Sources:     DefaultSources(),
		Consensus: Consensus{
			Strategy:         string(consensus.StrategyWeightedMean),
			MinSources:       3,
			MaxDeviation:     2.0,
			OutlierThreshold: 2.0,
			Weights: map[string]float64{
				"ksh": 1.5, "mnb": 1.3, "eurostat": 1.2,
				"worldbank": 1.0, "imf": 1.0, "oecd": 1.0,
				"nbp": 0.8, "cnb": 0.8,
			},
		},
		Validation: Validation{
			MinValue:        -10,
			MaxValue:        30,
			MaxChange:       5,
			RequiredSources: []string{"ksh", "mnb"},
		},
		Nodes: Nodes{
			MinNodes:     consensus.DefaultMinNodes,
			MaxDeviation: consensus.DefaultNodeMaxDeviation,
		},
		Alert: Alert{FailureThreshold: 3},
		Store: Store{Backend: "memory", Path: "data/halom", HistorySize: 30},
	}
}

// DefaultSources returns the statistical offices queried out of the box.
func DefaultSources() []source.Config {
	accept := map[string]string{"Accept": "application/json"}
	return []source.Config{
		{
			Name:         "ksh",
			Endpoint:     "https://api.ksh.hu/v1/statistics",
			Headers:      accept,
			Params:       map[string]string{"indicator": "consumer_price_index", "frequency": "monthly"},
			ResponsePath: "data.latest.value",
			Weight:       1.5,
		},
		{
			Name:         "eurostat",
			Endpoint:     "https://ec.europa.eu/eurostat/api/dissemination/statistics/1.0/data/prc_hicp_manr",
			Headers:      accept,
			Params:       map[string]string{"geo": "HU", "unit": "RCH_A", "lastTimePeriod": "1"},
			ResponsePath: "value.0.value",
			Weight:       1.2,
		},
		{
			Name:         "mnb",
			Endpoint:     "https://api.mnb.hu/v1/statistics",
			Headers:      accept,
			Params:       map[string]string{"series": "CPI", "frequency": "monthly"},
			ResponsePath: "datasets.0.data.0.value",
			Weight:       1.3,
		},
		{
			Name:         "worldbank",
			Endpoint:     "https://api.worldbank.org/v2/country/HUN/indicator/FP.CPI.TOTL.ZG",
			Headers:      accept,
			Params:       map[string]string{"format": "json", "latest": "1"},
			ResponsePath: "1.0.value",
			Weight:       1.0,
		},
		{
			Name:         "imf",
			Endpoint:     "https://www.imf.org/external/datamapper/api/v1/PCPIPCH/HUN",
			Headers:      accept,
			ResponsePath: "values.HUN.0",
			Weight:       1.0,
		},
		{
			Name:         "oecd",
			Endpoint:     "https://stats.oecd.org/sdmx-json/data/DP_LIVE/HUN.CPI.TOT.GY.M",
			Headers:      accept,
			Params:       map[string]string{"lastNObservations": "1"},
			ResponsePath: "dataSets.0.observations.0.0",
			Weight:       1.0,
		},
		{
			Name:         "nbp",
			Endpoint:     "https://api.nbp.pl/api/statistics/inflation/current",
			Headers:      accept,
			ResponsePath: "value",
			Weight:       0.8,
		},
		{
			Name:         "cnb",
			Endpoint:     "https://api.cnb.cz/statistics/inflation/current",
			Headers:      accept,
			ResponsePath: "value",
			Weight:       0.8,
		},
	}
}

// ConsensusConfig converts the section to the aggregation config.
func (c *Config) ConsensusConfig() (consensus.Config, error) {
	strategy, err := consensus.ParseStrategy(c.Consensus.Strategy)
	if err != nil {
		return consensus.Config{}, err
	}
	return consensus.Config{
		Strategy:         strategy,
		MinSources:       c.Consensus.MinSources,
		MaxDeviation:     c.Consensus.MaxDeviation,
		OutlierThreshold: c.Consensus.OutlierThreshold,
		Weights:          c.Consensus.Weights,
	}, nil
}

// Validator converts the validation section.
func (c *Config) Validator() consensus.Validator {
	return consensus.Validator{
		MinValue:        c.Validation.MinValue,
		MaxValue:        c.Validation.MaxValue,
		MaxChange:       c.Validation.MaxChange,
		RequiredSources: c.Validation.RequiredSources,
	}
}

// NodeConfig converts the nodes section.
func (c *Config) NodeConfig() consensus.NodeConfig {
	return consensus.NodeConfig{MinNodes: c.Nodes.MinNodes, Weighted: c.Nodes.Weighted}
}

// NodeDeviation returns the allowed deviation percent of a node.
func (c *Config) NodeDeviation(node string) float64 {
	if d, ok := c.Nodes.Deviations[node]; ok && d > 0 {
		return d
	}
	return c.Nodes.MaxDeviation
}
