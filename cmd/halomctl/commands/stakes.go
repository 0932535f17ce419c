package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/halom/internal/domain/calculator"
)

func newPowerCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "power STAKE...",
		Short: "Print the governance power of each stake",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stakes, err := parseStakes(args)
			if err != nil {
				return err
			}
			calc, err := f.calculator()
			if err != nil {
				return err
			}
			for _, s := range stakes {
				p, err := calc.GovernancePower(s)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%g\t%.6f\n", s, p)
			}
			return nil
		},
	}
}

func newSharesCmd(f *flags) *cobra.Command {
	var pool float64
	cmd := &cobra.Command{
		Use:   "shares STAKE...",
		Short: "Print root-weighted reward shares in percent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stakes, err := parseStakes(args)
			if err != nil {
				return err
			}
			calc, err := f.calculator()
			if err != nil {
				return err
			}
			shares, err := calc.Shares(stakes)
			if err != nil {
				return err
			}
			for i, s := range stakes {
				if pool > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%g\t%.4f%%\t%.6f\n", s, shares[i], shares[i]/100*pool)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%g\t%.4f%%\n", s, shares[i])
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&pool, "pool", 0, "reward pool to split by share")
	return cmd
}

type report struct {
	RootPower     int                                `json:"root_power"`
	AntiWhale     *calculator.AntiWhaleReport        `json:"anti_whale"`
	Efficiency    *calculator.EfficiencyReport       `json:"efficiency"`
	VotingSystems map[string]calculator.VotingSystem `json:"voting_systems"`
	Optimal       []float64                          `json:"optimal_distribution,omitempty"`
}

func newReportCmd(f *flags) *cobra.Command {
	var optimalTotal float64
	cmd := &cobra.Command{
		Use:   "report STAKE...",
		Short: "Print anti-whale, Gini and voting system statistics as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stakes, err := parseStakes(args)
			if err != nil {
				return err
			}
			calc, err := f.calculator()
			if err != nil {
				return err
			}
			aw, err := calc.AntiWhaleEffect(stakes)
			if err != nil {
				return err
			}
			eff, err := calc.GovernanceEfficiency(stakes)
			if err != nil {
				return err
			}
			vs, err := calc.CompareVotingSystems(stakes)
			if err != nil {
				return err
			}
			r := report{RootPower: calc.RootPower(), AntiWhale: aw, Efficiency: eff, VotingSystems: vs}
			if optimalTotal > 0 {
				r.Optimal = calculator.OptimalStakeDistribution(optimalTotal, len(stakes))
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().Float64Var(&optimalTotal, "optimal", 0, "also print the optimal split of this total across the stakers")
	return cmd
}
