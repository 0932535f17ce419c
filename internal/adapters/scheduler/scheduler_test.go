package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/halom/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestScheduler(t *testing.T) {
	Convey("Given a scheduler with seconds precision", t, func() {
		s := New(WithSeconds())
		Reset(func() { _ = s.Stop(context.Background()) })

		Convey("Jobs run on their schedule", func() {
			var runs atomic.Int32
			So(s.Add("tick", "@every 1s", func(ctx context.Context) error {
				runs.Add(1)
				return nil
			}), ShouldBeNil)

			s.Start()
			deadline := time.Now().Add(3 * time.Second)
			for runs.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
			So(runs.Load(), ShouldBeGreaterThan, 0)
		})

		Convey("Overlapping runs are skipped", func() {
			var running, maxRunning atomic.Int32
			So(s.Add("slow", "@every 1s", func(ctx context.Context) error {
				n := running.Add(1)
				defer running.Add(-1)
				if n > maxRunning.Load() {
					maxRunning.Store(n)
				}
				select {
				case <-time.After(2500 * time.Millisecond):
				case <-ctx.Done():
				}
				return nil
			}), ShouldBeNil)

			s.Start()
			time.Sleep(3500 * time.Millisecond)
			So(maxRunning.Load(), ShouldEqual, 1)
		})

		Convey("Duplicate names and bad specs are rejected", func() {
			noop := func(ctx context.Context) error { return nil }
			So(s.Add("a", "@hourly", noop), ShouldBeNil)
			So(errors.Is(s.Add("a", "@hourly", noop), ErrDuplicateJob), ShouldBeTrue)
			So(s.Add("b", "not a spec", noop), ShouldNotBeNil)

			entries := s.Entries()
			So(len(entries), ShouldEqual, 1)
			So(entries[0].Name, ShouldEqual, "a")
			So(entries[0].Spec, ShouldEqual, "@hourly")

			s.Remove("a")
			So(s.Entries(), ShouldBeEmpty)
		})

		Convey("Failing jobs do not stop the scheduler", func() {
			var runs atomic.Int32
			So(s.Add("fail", "@every 1s", func(ctx context.Context) error {
				runs.Add(1)
				return errors.New("boom")
			}), ShouldBeNil)
			s.Start()
			deadline := time.Now().Add(4 * time.Second)
			for runs.Load() < 2 && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
			So(runs.Load(), ShouldBeGreaterThanOrEqualTo, 2)
		})
	})
}
