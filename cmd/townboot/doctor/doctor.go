// Package doctorcmd re-checks converged state without mutating it.
package doctorcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"townboot/cmd/townboot/cmdutil"
	"townboot/cmd/townboot/plans"
	"townboot/cmd/townboot/ui"
)

// Cmd returns the "townboot doctor" command.
func Cmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check which bootstrap steps have converged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.LoadEnv(opts)
			if err != nil {
				return err
			}

			probes := plans.Doctor(cmd.Context(), env)

			issues := 0
			for _, p := range probes {
				switch {
				case p.OK && p.Detail != "":
					fmt.Println(ui.SuccessMsg("%s %s", p.Name, ui.Muted(p.Detail)))
				case p.OK:
					fmt.Println(ui.SuccessMsg("%s", p.Name))
				default:
					issues++
					fmt.Println(ui.ErrorMsg("%s: %s", p.Name, p.Detail))
				}
			}

			if issues > 0 {
				return fmt.Errorf("%d of %d checks failed; run `townboot up` to converge", issues, len(probes))
			}
			fmt.Println(ui.SuccessMsg("all %d checks passed", len(probes)))
			return nil
		},
	}
}
