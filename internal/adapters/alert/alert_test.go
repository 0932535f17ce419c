package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type countingAlerter struct {
	calls int
	err   error
}

func (c *countingAlerter) Alert(ctx context.Context, message string, stats model.Stats) error {
	c.calls++
	return c.err
}

func TestWebhookAlerter(t *testing.T) {
	Convey("Given a Slack-compatible webhook", t, func() {
		var got slackPayload
		status := http.StatusOK
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(status)
		}))
		Reset(srv.Close)

		a := NewWebhookAlerter(srv.URL, srv.Client())
		stats := model.Stats{SuccessfulUpdates: 7, FailedUpdates: 3, ConsecutiveFailures: 3}

		Convey("The message and statistics are posted", func() {
			So(a.Alert(context.Background(), "3 consecutive failures", stats), ShouldBeNil)
			So(got.Text, ShouldEqual, "Halom Oracle Alert: 3 consecutive failures")
			So(len(got.Attachments), ShouldEqual, 1)
			So(got.Attachments[0].Fields[0].Value, ShouldEqual, "7")
			So(got.Attachments[0].Fields[1].Value, ShouldEqual, "3")
		})

		Convey("A non-2xx status is an error", func() {
			status = http.StatusInternalServerError
			err := a.Alert(context.Background(), "x", stats)
			So(errors.Is(err, ErrWebhookStatus), ShouldBeTrue)
		})
	})
}

func TestMulti(t *testing.T) {
	Convey("Multi fans out and joins errors", t, func() {
		ok := &countingAlerter{}
		bad := &countingAlerter{err: errors.New("smtp down")}
		m := Multi{ok, nil, bad, NewLogAlerter(nil)}

		err := m.Alert(context.Background(), "msg", model.Stats{})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "smtp down")
		So(ok.calls, ShouldEqual, 1)
		So(bad.calls, ShouldEqual, 1)
	})
}
