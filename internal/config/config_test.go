package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/halom/internal/config"
	"github.com/okian/halom/internal/domain/consensus"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Schedule, convey.ShouldEqual, "@every 1h")
			convey.So(cfg.RootPower, convey.ShouldEqual, 4)
			convey.So(cfg.BackoffBase, convey.ShouldEqual, time.Second)
			convey.So(len(cfg.Sources), convey.ShouldEqual, 8)
			convey.So(cfg.Consensus.MinSources, convey.ShouldEqual, 3)
			convey.So(cfg.Validation.RequiredSources, convey.ShouldResemble, []string{"ksh", "mnb"})
			convey.So(cfg.Alert.FailureThreshold, convey.ShouldEqual, 3)
			convey.So(cfg.Store.HistorySize, convey.ShouldEqual, 30)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then sections convert to domain configs", func() {
			cc, err := cfg.ConsensusConfig()
			convey.So(err, convey.ShouldBeNil)
			convey.So(cc.Strategy, convey.ShouldEqual, consensus.StrategyWeightedMean)
			convey.So(cc.Weights["ksh"], convey.ShouldEqual, 1.5)

			v := cfg.Validator()
			convey.So(v.MaxChange, convey.ShouldEqual, 5)

			convey.So(cfg.NodeConfig().MinNodes, convey.ShouldEqual, consensus.DefaultMinNodes)
			convey.So(cfg.NodeDeviation("any"), convey.ShouldEqual, consensus.DefaultNodeMaxDeviation)
			cfg.Nodes.Deviations = map[string]float64{"n1": 9}
			convey.So(cfg.NodeDeviation("n1"), convey.ShouldEqual, 9)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid configurations", t, func() {
		cases := map[string]func(c *config.Config){
			"root power":        func(c *config.Config) { c.RootPower = 11 },
			"strategy":          func(c *config.Config) { c.Consensus.Strategy = "mode" },
			"bounds":            func(c *config.Config) { c.Validation.MinValue = 40 },
			"required source":   func(c *config.Config) { c.Validation.RequiredSources = []string{"ecb"} },
			"duplicate source":  func(c *config.Config) { c.Sources = append(c.Sources, c.Sources[0]) },
			"badger path":       func(c *config.Config) { c.Store = config.Store{Backend: "badger"} },
			"postgres dsn":      func(c *config.Config) { c.Store = config.Store{Backend: "postgres"} },
			"unknown backend":   func(c *config.Config) { c.Store.Backend = "redis" },
			"failure threshold": func(c *config.Config) { c.Alert.FailureThreshold = 0 },
			"min nodes":         func(c *config.Config) { c.Nodes.MinNodes = 0 },
		}

		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(name+": "+errString(err), convey.ShouldContainSubstring, "invalid config")
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		}
	})
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
