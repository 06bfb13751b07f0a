// Package provisioncmd implements the root-mode half of the bootstrap.
package provisioncmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"townboot/cmd/townboot/cmdutil"
	"townboot/cmd/townboot/plans"
)

// Cmd returns the "townboot provision" command.
func Cmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Prepare the OS as root: hostname, user, SSH, sudo, VPN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Geteuid() != 0 {
				return fmt.Errorf("provision must run as root; run `townboot setup` as the town user instead")
			}

			env, err := cmdutil.LoadEnv(opts)
			if err != nil {
				return err
			}
			if err := plans.ResolveRootInputs(cmd.Context(), env); err != nil {
				return err
			}
			if err := cmdutil.RunPlan(cmd.Context(), plans.Root(env)); err != nil {
				return err
			}

			fmt.Printf("Host provisioned. Connect as %s@%s and run `townboot setup`.\n",
				env.Config.Username, env.Config.Hostname)
			return nil
		},
	}
}
