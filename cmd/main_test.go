package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/halom/internal/adapters/http/api"
	"github.com/okian/halom/internal/adapters/http/swagger"
	"github.com/okian/halom/internal/config"
	"github.com/okian/halom/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const bundleYAML = `values:
  AIC_t: 110
  AIC_2020: 100
  MinWage_t: 120
  MinWage_2020: 100
  Emp_t: 0.62
  Emp_2020: 0.6
  Hous_t: 130
  Hous_2020: 100
  Save_t: 0.1
  Save_2020: 0.08
  Gini_t: 29
  Gini_2020: 30
`

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Store.Backend = "memory"
	cfg.Nodes.Known = []string{"node-a", "node-b", "node-c"}
	cfg.Nodes.Deviations = map[string]float64{"node-c": 2}
	return cfg
}

func TestNewService(t *testing.T) {
	convey.Convey("Given the default configuration with a memory store", t, func() {
		ctx := context.Background()
		cfg := testConfig()

		convey.Convey("When the service is built and started", func() {
			svc, err := newService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			defer svc.Stop()

			convey.Convey("Then the configured sources and nodes are wired", func() {
				stats := svc.GetStats()
				convey.So(stats["sources"], convey.ShouldHaveLength, len(config.DefaultSources()))
				convey.So(stats["registeredNodes"], convey.ShouldEqual, 3)
				convey.So(stats["rootPower"], convey.ShouldEqual, 4)
				convey.So(stats["strategy"], convey.ShouldEqual, "weighted_mean")
			})
		})

		convey.Convey("When a bundle file is configured", func() {
			path := filepath.Join(t.TempDir(), "bundle.yaml")
			convey.So(os.WriteFile(path, []byte(bundleYAML), 0o600), convey.ShouldBeNil)
			cfg.BundleFile = path

			svc, err := newService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the HOI cycle reads it", func() {
				report, err := svc.RunHOICycle(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(report.HOI, convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When the store backend is unknown", func() {
			cfg.Store.Backend = "etcd"
			_, err := newService(ctx, cfg, logger.Get())

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the root power is out of range", func() {
			cfg.RootPower = 11
			_, err := newService(ctx, cfg, logger.Get())

			convey.Convey("Then building fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the badger backend is selected", func() {
			cfg.Store.Backend = "badger"
			cfg.Store.Path = t.TempDir()

			svc, err := newService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)
			convey.So(svc.Start(ctx), convey.ShouldBeNil)

			convey.Convey("Then node reputations persist in it", func() {
				reps, err := svc.Reputations(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(reps), convey.ShouldEqual, 3)
				svc.Stop()
			})
		})
	})
}

func TestNewScheduler(t *testing.T) {
	convey.Convey("Given a built service", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		svc, err := newService(ctx, cfg, logger.Get())
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When no bundle file is configured", func() {
			sched, err := newScheduler(cfg, svc, logger.Get())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then only the consensus job is scheduled", func() {
				entries := sched.Entries()
				convey.So(len(entries), convey.ShouldEqual, 1)
				convey.So(entries[0].Name, convey.ShouldEqual, "consensus")
			})
		})

		convey.Convey("When a bundle file is configured", func() {
			cfg.BundleFile = "bundle.yaml"
			sched, err := newScheduler(cfg, svc, logger.Get())
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then the HOI job is scheduled too", func() {
				convey.So(len(sched.Entries()), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the schedule is invalid", func() {
			cfg.Schedule = "every now and then"
			_, err := newScheduler(cfg, svc, logger.Get())

			convey.Convey("Then it is rejected", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestRoutes(t *testing.T) {
	convey.Convey("Given the service routes and API docs on one mux", t, func() {
		ctx := context.Background()
		svc, err := newService(ctx, testConfig(), logger.Get())
		convey.So(err, convey.ShouldBeNil)

		mux := http.NewServeMux()
		swagger.Register(ctx, mux)
		api.NewServer(svc).Register(ctx, mux)

		for _, path := range []string{"/healthz", "/metrics", "/stats", "/nodes", "/openapi.yaml", "/api-docs"} {
			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		}
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loop returns when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
		})
	})
}
