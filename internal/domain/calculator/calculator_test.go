package calculator_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/halom/internal/domain/calculator"
	"github.com/okian/halom/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func whaleStakes() []float64 {
	stakes := []float64{10000}
	for i := 0; i < 99; i++ {
		stakes = append(stakes, 100)
	}
	return stakes
}

func TestNthRoot(t *testing.T) {
	Convey("Given the fixed-point root routine", t, func() {
		Convey("When taking the fourth root of x^4", func() {
			Convey("Then it should round trip within 1e-6", func() {
				for _, x := range []float64{1, 2, 3, 4, 5, 100, 10000} {
					got, err := calculator.FourthRoot(math.Pow(x, 4))
					So(err, ShouldBeNil)
					So(got, ShouldAlmostEqual, x, 1e-6)
				}
			})
		})

		Convey("When using the trivial degrees", func() {
			one, err := calculator.NthRoot(7.5, 1)
			So(err, ShouldBeNil)
			two, err := calculator.NthRoot(2, 2)
			So(err, ShouldBeNil)
			zero, err := calculator.NthRoot(0, 5)
			So(err, ShouldBeNil)

			Convey("Then n=1 is identity, n=2 is sqrt and zero maps to zero", func() {
				So(one, ShouldEqual, 7.5)
				So(two, ShouldEqual, math.Sqrt2)
				So(zero, ShouldEqual, 0)
			})
		})

		Convey("When the input is large", func() {
			got, err := calculator.NthRoot(1e18, 3)

			Convey("Then it should converge without overflow", func() {
				So(err, ShouldBeNil)
				So(got, ShouldAlmostEqual, 1e6, 1e-6)
			})
		})

		Convey("When the degree is large", func() {
			got, err := calculator.NthRoot(1024, 10)

			Convey("Then it should still converge", func() {
				So(err, ShouldBeNil)
				So(got, ShouldAlmostEqual, 2, 1e-9)
			})
		})

		Convey("When the input is a fraction", func() {
			got, err := calculator.NthRoot(0.0625, 4)

			Convey("Then the root should be larger than the input", func() {
				So(err, ShouldBeNil)
				So(got, ShouldAlmostEqual, 0.5, 1e-9)
			})
		})

		Convey("When a coarser scale is requested", func() {
			got, err := calculator.NthRootScaled(16, 4, 6)

			Convey("Then the result keeps that many digits", func() {
				So(err, ShouldBeNil)
				So(got, ShouldAlmostEqual, 2, 1e-6)
			})
		})

		Convey("When the input is below the scale resolution", func() {
			tiny, tinyErr := calculator.NthRootScaled(1e-7, 3, 6)
			small, smallErr := calculator.NthRootScaled(1e-3, 3, 6)
			sqrt, sqrtErr := calculator.NthRootScaled(1e-8, 2, 6)

			Convey("Then it truncates to zero while degree two keeps precision", func() {
				So(tinyErr, ShouldBeNil)
				So(tiny, ShouldEqual, 0)
				So(smallErr, ShouldBeNil)
				So(small, ShouldAlmostEqual, 0.1, 1e-6)
				So(sqrtErr, ShouldBeNil)
				So(sqrt, ShouldAlmostEqual, 1e-4, 1e-12)
			})
		})

		Convey("When the input is invalid", func() {
			_, negErr := calculator.NthRoot(-1, 4)
			_, nanErr := calculator.NthRoot(math.NaN(), 4)
			_, degErr := calculator.NthRoot(8, 0)

			Convey("Then it should report invalid input", func() {
				So(errors.Is(negErr, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(nanErr, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(degErr, model.ErrInvalidInput), ShouldBeTrue)
			})
		})
	})
}

func TestCalculatorNew(t *testing.T) {
	Convey("Given calculator options", t, func() {
		Convey("When using defaults", func() {
			c, err := calculator.New()

			Convey("Then the root power should be four", func() {
				So(err, ShouldBeNil)
				So(c.RootPower(), ShouldEqual, 4)
			})
		})

		Convey("When the root power is out of range", func() {
			_, low := calculator.New(calculator.WithRootPower(1))
			_, high := calculator.New(calculator.WithRootPower(11))

			Convey("Then it should be a configuration error", func() {
				So(errors.Is(low, model.ErrConfiguration), ShouldBeTrue)
				So(errors.Is(high, model.ErrConfiguration), ShouldBeTrue)
			})
		})

		Convey("When the root power is within range", func() {
			c, err := calculator.New(calculator.WithRootPower(2))

			Convey("Then governance power should follow it", func() {
				So(err, ShouldBeNil)
				p, err := c.GovernancePower(81)
				So(err, ShouldBeNil)
				So(p, ShouldEqual, 9)
			})
		})
	})
}

func TestRewardShare(t *testing.T) {
	Convey("Given a fourth root calculator", t, func() {
		c, err := calculator.New()
		So(err, ShouldBeNil)

		Convey("When summing every staker's share", func() {
			stakes := []float64{1000, 5000, 25000, 100000, 500000}
			total := 0.0
			for _, s := range stakes {
				share, err := c.RewardShare(s, stakes)
				So(err, ShouldBeNil)
				total += share
			}

			Convey("Then the shares should add up to 100", func() {
				So(total, ShouldAlmostEqual, 100, 1e-6)
			})
		})

		Convey("When the stake set is empty or the user holds nothing", func() {
			empty, err := c.RewardShare(100, nil)
			So(err, ShouldBeNil)
			zero, err := c.RewardShare(0, []float64{1, 2})
			So(err, ShouldBeNil)

			Convey("Then the share should be zero", func() {
				So(empty, ShouldEqual, 0)
				So(zero, ShouldEqual, 0)
			})
		})

		Convey("When computing the expected reward", func() {
			reward, err := c.ExpectedReward(16, []float64{16, 16}, 1000)

			Convey("Then it should be the share of the pool", func() {
				So(err, ShouldBeNil)
				So(reward, ShouldAlmostEqual, 500, 1e-9)
			})
		})

		Convey("When a stake is negative or above the ceiling", func() {
			_, negErr := c.RewardShare(1, []float64{1, -1})
			_, bigErr := c.RewardShare(1, []float64{1, calculator.MaxStake * 10})

			Convey("Then it should be rejected", func() {
				So(errors.Is(negErr, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(bigErr, model.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When listing all shares", func() {
			shares, err := c.Shares([]float64{1, 16, 81})

			Convey("Then they follow the roots 1, 2 and 3", func() {
				So(err, ShouldBeNil)
				So(shares[0], ShouldAlmostEqual, 100.0/6, 1e-9)
				So(shares[1], ShouldAlmostEqual, 200.0/6, 1e-9)
				So(shares[2], ShouldAlmostEqual, 300.0/6, 1e-9)
			})
		})
	})
}

func TestAntiWhaleEffect(t *testing.T) {
	Convey("Given a fourth root calculator", t, func() {
		c, err := calculator.New()
		So(err, ShouldBeNil)

		Convey("When one whale holds as much as 99 small holders", func() {
			r, err := c.AntiWhaleEffect(whaleStakes())

			Convey("Then the whale's root share should be below its linear share", func() {
				So(err, ShouldBeNil)
				So(r, ShouldNotBeNil)
				So(r.LargestStake, ShouldEqual, 10000)
				So(r.LinearShare, ShouldAlmostEqual, 10000.0/19900*100, 1e-9)
				So(r.RootShare, ShouldBeLessThan, r.LinearShare)
				So(r.PowerReduction, ShouldBeGreaterThan, 0)
				So(r.Stakers, ShouldEqual, 100)
			})
		})

		Convey("When stakes are uniform", func() {
			r, err := c.AntiWhaleEffect([]float64{50, 50, 50, 50})

			Convey("Then there should be no reduction", func() {
				So(err, ShouldBeNil)
				So(r.PowerReduction, ShouldAlmostEqual, 0, 1e-9)
			})
		})

		Convey("When the stake set is empty", func() {
			r, err := c.AntiWhaleEffect(nil)

			Convey("Then the result should be empty", func() {
				So(err, ShouldBeNil)
				So(r, ShouldBeNil)
			})
		})
	})
}

func TestGovernanceEfficiency(t *testing.T) {
	Convey("Given a fourth root calculator", t, func() {
		c, err := calculator.New()
		So(err, ShouldBeNil)

		Convey("When stakes are concentrated", func() {
			r, err := c.GovernanceEfficiency([]float64{1000, 5000, 25000, 100000, 500000})

			Convey("Then root weighting should lower inequality", func() {
				So(err, ShouldBeNil)
				So(r.GiniLinear, ShouldBeBetweenOrEqual, 0, 1)
				So(r.GiniRoot, ShouldBeBetweenOrEqual, 0, 1)
				So(r.GiniRoot, ShouldBeLessThan, r.GiniLinear)
				So(r.InequalityReduction, ShouldBeGreaterThan, 0)
				So(r.DecentralizationScore, ShouldAlmostEqual, (1-r.GiniRoot)*100, 1e-9)
				So(r.AverageStake, ShouldAlmostEqual, 126200, 1e-9)
			})
		})

		Convey("When the stake set is empty", func() {
			r, err := c.GovernanceEfficiency(nil)

			Convey("Then the result should be empty", func() {
				So(err, ShouldBeNil)
				So(r, ShouldBeNil)
			})
		})
	})
}

func TestGini(t *testing.T) {
	Convey("Given the Gini coefficient", t, func() {
		Convey("When values are equal", func() {
			Convey("Then it should be zero", func() {
				So(calculator.Gini([]float64{3, 3, 3}), ShouldAlmostEqual, 0, 1e-12)
			})
		})

		Convey("When a single holder owns everything", func() {
			Convey("Then it should approach one", func() {
				So(calculator.Gini([]float64{0, 0, 0, 100}), ShouldAlmostEqual, 0.75, 1e-12)
			})
		})

		Convey("When the set is empty or all zero", func() {
			Convey("Then it should be zero", func() {
				So(calculator.Gini(nil), ShouldEqual, 0)
				So(calculator.Gini([]float64{0, 0}), ShouldEqual, 0)
			})
		})
	})
}

func TestCompareVotingSystems(t *testing.T) {
	Convey("Given a calculator and a whale-heavy stake set", t, func() {
		c, err := calculator.New()
		So(err, ShouldBeNil)
		systems, err := c.CompareVotingSystems(whaleStakes())
		So(err, ShouldBeNil)

		Convey("Then higher roots should shrink the largest share", func() {
			So(systems, ShouldHaveLength, 4)
			So(systems["linear"].LargestShare, ShouldBeGreaterThan, systems["sqrt"].LargestShare)
			So(systems["sqrt"].LargestShare, ShouldBeGreaterThan, systems["cubic"].LargestShare)
			So(systems["cubic"].LargestShare, ShouldBeGreaterThan, systems["fourth_root"].LargestShare)
		})
	})
}

func TestOptimalStakeDistribution(t *testing.T) {
	Convey("Given a total of 900 split across three users", t, func() {
		out := calculator.OptimalStakeDistribution(900, 3)

		Convey("Then the shares should vary by ten percent", func() {
			So(out, ShouldHaveLength, 3)
			So(out[0], ShouldAlmostEqual, 270, 1e-9)
			So(out[1], ShouldAlmostEqual, 300, 1e-9)
			So(out[2], ShouldAlmostEqual, 330, 1e-9)
		})

		Convey("And no users yields nothing", func() {
			So(calculator.OptimalStakeDistribution(900, 0), ShouldBeNil)
		})
	})
}
