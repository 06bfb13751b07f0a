// Package upcmd dispatches on privilege: the same entrypoint runs the
// root provisioner when invoked as root and the user setup otherwise,
// matching the two-phase bootstrap flow.
package upcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"townboot/cmd/townboot/cmdutil"
	"townboot/cmd/townboot/plans"
)

// Cmd returns the "townboot up" command.
func Cmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Bootstrap this host (provision as root, setup as a user)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.LoadEnv(opts)
			if err != nil {
				return err
			}

			if os.Geteuid() == 0 {
				if err := plans.ResolveRootInputs(cmd.Context(), env); err != nil {
					return err
				}
				if err := cmdutil.RunPlan(cmd.Context(), plans.Root(env)); err != nil {
					return err
				}
				fmt.Printf("Host provisioned. Connect as %s@%s and run `townboot up` again.\n",
					env.Config.Username, env.Config.Hostname)
				return nil
			}

			return cmdutil.RunPlan(cmd.Context(), plans.User(env))
		},
	}
}
