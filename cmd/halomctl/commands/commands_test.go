package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func execute(args ...string) (string, error) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPowerCommand(t *testing.T) {
	Convey("Given the power command", t, func() {
		Convey("When stakes are perfect fourth powers", func() {
			out, err := execute("power", "16", "81")

			Convey("Then their roots are printed", func() {
				So(err, ShouldBeNil)
				lines := strings.Split(strings.TrimSpace(out), "\n")
				So(lines, ShouldHaveLength, 2)
				So(lines[0], ShouldEqual, "16\t2.000000")
				So(lines[1], ShouldEqual, "81\t3.000000")
			})
		})

		Convey("When the root degree is changed", func() {
			out, err := execute("--root", "2", "power", "81")

			Convey("Then the square root is printed", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "9.000000")
			})
		})

		Convey("When a stake is not a number", func() {
			_, err := execute("power", "lots")

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a stake is negative", func() {
			_, err := execute("power", "--", "-5")

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the root degree is out of range", func() {
			_, err := execute("--root", "12", "power", "16")

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestSharesCommand(t *testing.T) {
	Convey("Given the shares command", t, func() {
		out, err := execute("shares", "--pool", "1000", "16", "81")

		Convey("Then shares and pool payouts are printed", func() {
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "40.0000%\t400.000000")
			So(out, ShouldContainSubstring, "60.0000%\t600.000000")
		})
	})
}

func TestReportCommand(t *testing.T) {
	Convey("Given the report command", t, func() {
		out, err := execute("report", "--optimal", "300", "10000", "1", "1")
		So(err, ShouldBeNil)

		var r map[string]any
		So(json.Unmarshal([]byte(out), &r), ShouldBeNil)

		Convey("Then every section is present", func() {
			So(r["root_power"], ShouldEqual, 4.0)
			So(r, ShouldContainKey, "anti_whale")
			So(r, ShouldContainKey, "efficiency")
			So(r["voting_systems"], ShouldContainKey, "linear")
			So(r["optimal_distribution"], ShouldHaveLength, 3)
		})
	})
}

func TestHOICommand(t *testing.T) {
	Convey("Given the hoi command", t, func() {
		Convey("When no file is given", func() {
			_, err := execute("hoi")

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a complete bundle file is given", func() {
			path := filepath.Join(t.TempDir(), "bundle.yaml")
			body := "values:\n" +
				"  AIC_t: 100\n  AIC_2020: 100\n" +
				"  MinWage_t: 100\n  MinWage_2020: 100\n" +
				"  Emp_t: 0.6\n  Emp_2020: 0.6\n" +
				"  Hous_t: 100\n  Hous_2020: 100\n" +
				"  Save_t: 0.1\n  Save_2020: 0.1\n" +
				"  Gini_t: 30\n  Gini_2020: 30\n"
			So(os.WriteFile(path, []byte(body), 0o600), ShouldBeNil)

			out, err := execute("hoi", "--file", path)

			Convey("Then an unchanged economy scores one", func() {
				So(err, ShouldBeNil)
				var r map[string]any
				So(json.Unmarshal([]byte(out), &r), ShouldBeNil)
				So(r["hoi"], ShouldAlmostEqual, 1.0, 1e-9)
			})
		})
	})
}
