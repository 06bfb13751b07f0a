// Package setupcmd implements the user-mode half of the bootstrap.
package setupcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"townboot/cmd/townboot/cmdutil"
	"townboot/cmd/townboot/plans"
)

// Cmd returns the "townboot setup" command.
func Cmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Install the Gas Town stack for the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Geteuid() == 0 {
				return fmt.Errorf("setup must run as the town user, not root; run `townboot provision` first")
			}

			env, err := cmdutil.LoadEnv(opts)
			if err != nil {
				return err
			}
			return cmdutil.RunPlan(cmd.Context(), plans.User(env))
		},
	}
}
