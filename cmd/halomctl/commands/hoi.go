package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/okian/halom/internal/adapters/bundle"
	"github.com/okian/halom/internal/domain/hoi"
)

func newHOICmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "hoi --file BUNDLE.yaml",
		Short: "Compute the HOI from a bundle file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			b, err := bundle.NewFileProvider(file).Bundle(cmd.Context())
			if err != nil {
				return err
			}
			res, err := hoi.Compute(b)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML bundle with values or series")
	return cmd
}
