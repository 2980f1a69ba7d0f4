package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newLintCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate the effective trail configuration and print risky settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := trailConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ws := cfg.Lint()
			if len(ws) == 0 {
				fmt.Fprintln(out, "ok")
				return nil
			}
			for _, w := range ws {
				fmt.Fprintf(out, "%s: %s\n", w.Code, w.Message)
			}
			return nil
		},
	}
}
