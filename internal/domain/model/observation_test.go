package model

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestObservation(t *testing.T) {
	Convey("Observation validity and freshness", t, func() {
		now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		o := Observation{Source: "ksh", Value: 5.2, Timestamp: now.Add(-time.Minute)}

		So(o.Valid(), ShouldBeTrue)
		So(Observation{Source: "ksh", Value: math.NaN()}.Valid(), ShouldBeFalse)
		So(Observation{Source: "ksh", Value: math.Inf(1)}.Valid(), ShouldBeFalse)
		So(Observation{Value: 1}.Valid(), ShouldBeFalse)

		So(o.Fresh(now, 2*time.Minute), ShouldBeTrue)
		So(o.Fresh(now, time.Minute), ShouldBeFalse)
		So(Observation{Source: "ksh"}.Fresh(now, time.Hour), ShouldBeFalse)
	})
}

func TestErrors(t *testing.T) {
	Convey("Typed errors match their sentinels through wrapping", t, func() {
		sfe := fmt.Errorf("cycle: %w", &SourceFetchError{Source: "imf", Attempts: 3, Err: errors.New("timeout")})
		So(errors.Is(sfe, ErrSourceFetch), ShouldBeTrue)
		So(sfe.Error(), ShouldContainSubstring, "imf")

		ve := fmt.Errorf("cycle: %w", &ValidationError{Reason: ReasonOutOfRange, Value: 60, Limit: 50})
		So(errors.Is(ve, ErrValidation), ShouldBeTrue)
		So(ReasonOf(ve), ShouldEqual, ReasonOutOfRange)
		So(ReasonOf(errors.New("other")), ShouldEqual, "")

		ie := &InputIncompleteError{Missing: []string{"AIC_t", "Gini_t"}}
		So(errors.Is(ie, ErrInputIncomplete), ShouldBeTrue)
		So(ie.Error(), ShouldContainSubstring, "AIC_t, Gini_t")
	})
}

func TestStats(t *testing.T) {
	Convey("Stats rates", t, func() {
		So(Stats{}.SuccessRate(), ShouldEqual, 0)
		s := Stats{SuccessfulUpdates: 3, FailedUpdates: 1, ConsensusAchieved: 1, ConsensusFailed: 1}
		So(s.Total(), ShouldEqual, 4)
		So(s.SuccessRate(), ShouldEqual, 75)
		So(s.ConsensusRate(), ShouldEqual, 50)
	})
}
