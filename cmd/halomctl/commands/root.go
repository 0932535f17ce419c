// Package commands implements the halomctl calculator CLI.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/halom/internal/domain/calculator"
)

type flags struct {
	rootPower int
}

// NewRootCmd builds the halomctl command tree.
func NewRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "halomctl",
		Short: "Governance and HOI calculators of the Halom oracle",
	}
	root.PersistentFlags().IntVar(&f.rootPower, "root", calculator.DefaultRootPower, "root degree of governance weighting")

	root.AddCommand(
		newPowerCmd(f),
		newSharesCmd(f),
		newReportCmd(f),
		newHOICmd(),
	)
	return root
}

func (f *flags) calculator() (*calculator.Calculator, error) {
	return calculator.New(calculator.WithRootPower(f.rootPower))
}

func parseStakes(args []string) ([]float64, error) {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stake %q: %w", a, err)
		}
		out = append(out, v)
	}
	if err := calculator.CheckStakes(out); err != nil {
		return nil, err
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
