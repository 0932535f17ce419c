package source

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/halom/internal/adapters/repository"
	"github.com/okian/halom/internal/domain/consensus"
	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]any
	errs    map[string][]error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		calls:   map[string]int{},
		results: map[string][]any{},
		errs:    map[string][]error{},
	}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req Request) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[req.Endpoint]
	f.calls[req.Endpoint]++
	if errs := f.errs[req.Endpoint]; n < len(errs) && errs[n] != nil {
		return nil, errs[n]
	}
	res := f.results[req.Endpoint]
	if len(res) == 0 {
		return nil, errors.New("no scripted result")
	}
	if n >= len(res) {
		return res[len(res)-1], nil
	}
	return res[n], nil
}

// stallingFetcher blocks on the stalled endpoint until the attempt is
// cancelled and answers every other endpoint at once.
type stallingFetcher struct {
	stalled string
	value   float64
}

func (f stallingFetcher) Fetch(ctx context.Context, req Request) (any, error) {
	if req.Endpoint == f.stalled {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return map[string]any{"v": f.value}, nil
}

func (f *scriptedFetcher) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func TestExtractPath(t *testing.T) {
	Convey("Given a decoded document", t, func() {
		doc := map[string]any{
			"data": []any{
				map[string]any{"value": 5.2},
				map[string]any{"value": "4.8"},
			},
			"meta": map[any]any{"count": int64(2)},
			"bad":  "n/a",
		}

		Convey("Dot paths walk maps and numeric segments index arrays", func() {
			v, err := ExtractPath(doc, "data.0.value")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 5.2)

			v, err = ExtractPath(doc, "data.1.value")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 4.8)

			v, err = ExtractPath(doc, "meta.count")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 2)
		})

		Convey("Missing keys and out of range indexes are not found", func() {
			_, err := ExtractPath(doc, "data.5.value")
			So(errors.Is(err, ErrPathNotFound), ShouldBeTrue)

			_, err = ExtractPath(doc, "nope")
			So(errors.Is(err, ErrPathNotFound), ShouldBeTrue)
		})

		Convey("Non numeric leaves are rejected", func() {
			_, err := ExtractPath(doc, "bad")
			So(errors.Is(err, ErrNotNumeric), ShouldBeTrue)

			_, err = ExtractPath(doc, "data")
			So(errors.Is(err, ErrNotNumeric), ShouldBeTrue)
		})
	})
}

func TestHTTPFetcher(t *testing.T) {
	Convey("Given an upstream JSON API", t, func() {
		var gotQuery, gotHeader string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("series")
			gotHeader = r.Header.Get("X-Api-Key")
			if r.URL.Path == "/down" {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[{"value":5.2}]}`))
		}))
		Reset(srv.Close)

		f := NewHTTPFetcher(srv.Client())

		Convey("A 200 response is decoded and params and headers are sent", func() {
			doc, err := f.Fetch(context.Background(), Request{
				Endpoint: srv.URL + "/cpi",
				Headers:  map[string]string{"X-Api-Key": "k"},
				Params:   map[string]string{"series": "HU"},
				Timeout:  time.Second,
			})
			So(err, ShouldBeNil)
			So(gotQuery, ShouldEqual, "HU")
			So(gotHeader, ShouldEqual, "k")

			v, err := ExtractPath(doc, "data.0.value")
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 5.2)
		})

		Convey("A non-200 response is an error", func() {
			_, err := f.Fetch(context.Background(), Request{Endpoint: srv.URL + "/down"})
			So(errors.Is(err, ErrUnexpectedStatus), ShouldBeTrue)
		})
	})
}

func TestManager(t *testing.T) {
	Convey("Given a manager with scripted sources", t, func() {
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		var slept []time.Duration
		var sleptMu sync.Mutex
		sleeper := func(ctx context.Context, d time.Duration) error {
			sleptMu.Lock()
			defer sleptMu.Unlock()
			slept = append(slept, d)
			return nil
		}

		fetcher := newScriptedFetcher()
		cache := repository.NewMemoryStore()
		sources := []Config{
			{Name: "ksh", Endpoint: "ksh", ResponsePath: "v", Weight: 1.2, Retries: 3, Timeout: time.Minute},
			{Name: "mnb", Endpoint: "mnb", ResponsePath: "v", Weight: 1.0, Retries: 3, Timeout: time.Minute},
			{Name: "imf", Endpoint: "imf", ResponsePath: "v", Weight: 0.8, Retries: 2, Timeout: time.Minute},
		}
		m, err := NewManager(sources,
			WithFetcher(fetcher),
			WithCache(cache),
			WithClock(clock),
			WithSleeper(sleeper),
			WithBackoffBase(time.Second),
		)
		So(err, ShouldBeNil)
		So(m.Sources(), ShouldResemble, []string{"imf", "ksh", "mnb"})

		Convey("A successful fetch is cached and reused while fresh", func() {
			fetcher.results["ksh"] = []any{map[string]any{"v": 5.2}}

			obs, err := m.FetchSource(context.Background(), "ksh")
			So(err, ShouldBeNil)
			So(obs.Value, ShouldEqual, 5.2)
			So(obs.Weight, ShouldEqual, 1.2)
			So(obs.Reliability, ShouldEqual, DefaultReliability)

			again, err := m.FetchSource(context.Background(), "ksh")
			So(err, ShouldBeNil)
			So(again.Value, ShouldEqual, 5.2)
			So(fetcher.count("ksh"), ShouldEqual, 1)

			Convey("And refetched once the window has passed", func() {
				now = now.Add(2 * time.Minute)
				fetcher.results["ksh"] = []any{map[string]any{"v": 5.4}}
				obs, err := m.FetchSource(context.Background(), "ksh")
				So(err, ShouldBeNil)
				So(obs.Value, ShouldEqual, 5.4)
				So(fetcher.count("ksh"), ShouldEqual, 2)
			})
		})

		Convey("Transient failures are retried with exponential backoff", func() {
			fetcher.errs["mnb"] = []error{errors.New("timeout"), errors.New("reset")}
			fetcher.results["mnb"] = []any{map[string]any{"v": 4.9}}

			obs, err := m.FetchSource(context.Background(), "mnb")
			So(err, ShouldBeNil)
			So(obs.Value, ShouldEqual, 4.9)
			So(fetcher.count("mnb"), ShouldEqual, 3)
			So(slept, ShouldResemble, []time.Duration{time.Second, 2 * time.Second})
		})

		Convey("Exhausted retries produce a SourceFetchError", func() {
			fetcher.errs["imf"] = []error{errors.New("a"), errors.New("b")}

			_, err := m.FetchSource(context.Background(), "imf")
			So(errors.Is(err, model.ErrSourceFetch), ShouldBeTrue)
			var sfe *model.SourceFetchError
			So(errors.As(err, &sfe), ShouldBeTrue)
			So(sfe.Source, ShouldEqual, "imf")
			So(sfe.Attempts, ShouldEqual, 2)
			So(IsFetchError(err), ShouldBeTrue)
		})

		Convey("An unknown source is a configuration error", func() {
			_, err := m.FetchSource(context.Background(), "nope")
			So(errors.Is(err, model.ErrConfiguration), ShouldBeTrue)
			So(errors.Is(err, ErrUnknownSource), ShouldBeTrue)
		})

		Convey("FetchAll returns only sources with a valid value", func() {
			fetcher.results["ksh"] = []any{map[string]any{"v": 5.2}}
			fetcher.results["mnb"] = []any{map[string]any{"v": "4.8"}}
			fetcher.results["imf"] = []any{map[string]any{"v": "n/a"}}

			batch, err := m.FetchAll(context.Background(), "cycle-1")
			So(err, ShouldBeNil)
			So(batch.CycleID, ShouldEqual, "cycle-1")
			So(len(batch.Observations), ShouldEqual, 2)
			So(batch.Observations[0].Source, ShouldEqual, "ksh")
			So(batch.Observations[1].Source, ShouldEqual, "mnb")
			So(batch.Failures, ShouldContainKey, "imf")

			cached, err := m.Cached(context.Background())
			So(err, ShouldBeNil)
			So(len(cached), ShouldEqual, 2)
		})

		Convey("Evict forces a refetch", func() {
			fetcher.results["ksh"] = []any{map[string]any{"v": 5.2}}
			_, _ = m.FetchSource(context.Background(), "ksh")
			So(m.Evict(context.Background(), "ksh"), ShouldBeNil)
			_, _ = m.FetchSource(context.Background(), "ksh")
			So(fetcher.count("ksh"), ShouldEqual, 2)
			So(errors.Is(m.Evict(context.Background(), "zzz"), ErrUnknownSource), ShouldBeTrue)
		})
	})

	Convey("Given a manager where one source never answers", t, func() {
		fetcher := stallingFetcher{stalled: "slow", value: 5.2}
		m, err := NewManager([]Config{
			{Name: "slow", Endpoint: "slow", ResponsePath: "v", Retries: 2, Timeout: 100 * time.Millisecond},
			{Name: "fast", Endpoint: "fast", ResponsePath: "v", Retries: 2, Timeout: 100 * time.Millisecond},
		}, WithFetcher(fetcher), WithBackoffBase(0), WithWorkers(2))
		So(err, ShouldBeNil)

		Convey("When every source is fetched", func() {
			start := time.Now()
			batch, err := m.FetchAll(context.Background(), "cycle-stall")
			elapsed := time.Since(start)

			Convey("Then the cycle ends within the stalled source's timeout budget", func() {
				So(err, ShouldBeNil)
				So(elapsed, ShouldBeLessThan, time.Second)
				So(len(batch.Observations), ShouldEqual, 1)
				So(batch.Observations[0].Source, ShouldEqual, "fast")
				So(batch.Observations[0].Value, ShouldEqual, 5.2)

				So(batch.Failures, ShouldContainKey, "slow")
				fail := batch.Failures["slow"]
				So(errors.Is(fail, model.ErrSourceFetch), ShouldBeTrue)
				var sfe *model.SourceFetchError
				So(errors.As(fail, &sfe), ShouldBeTrue)
				So(sfe.Attempts, ShouldEqual, 2)
				So(errors.Is(fail, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})

	Convey("Source weights must be finite and bounded", t, func() {
		for _, w := range []float64{math.Inf(1), math.NaN(), -1, consensus.MaxWeight * 10} {
			_, err := NewManager([]Config{{Name: "a", Endpoint: "x", Weight: w}})
			So(errors.Is(err, model.ErrConfiguration), ShouldBeTrue)
		}
		_, err := NewManager([]Config{{Name: "a", Endpoint: "x", Weight: consensus.MaxWeight}})
		So(err, ShouldBeNil)
	})

	Convey("Invalid source lists are rejected", t, func() {
		_, err := NewManager([]Config{{Name: "a"}})
		So(errors.Is(err, model.ErrConfiguration), ShouldBeTrue)

		_, err = NewManager([]Config{
			{Name: "a", Endpoint: "x"},
			{Name: "a", Endpoint: "y"},
		})
		So(errors.Is(err, model.ErrConfiguration), ShouldBeTrue)

		_, err = NewManager([]Config{{Name: "a", Endpoint: "x", Reliability: 120}})
		So(errors.Is(err, model.ErrConfiguration), ShouldBeTrue)
	})
}
