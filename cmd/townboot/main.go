package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"townboot/cmd/townboot/cmdutil"
	doctorcmd "townboot/cmd/townboot/doctor"
	provisioncmd "townboot/cmd/townboot/provision"
	runscmd "townboot/cmd/townboot/runs"
	setupcmd "townboot/cmd/townboot/setup"
	"townboot/cmd/townboot/ui"
	upcmd "townboot/cmd/townboot/up"
	"townboot/internal/logging"
	"townboot/internal/support/buildinfo"
)

func main() {
	var (
		debug         bool
		noInteraction bool
		opts          cmdutil.Options
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "townboot",
		Short:         "Bootstrap a Gas Town agent host",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			ui.ConfigureInteraction(noInteraction)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Never prompt; fail when an input is missing")
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file path (default: user config dir)")
	root.PersistentFlags().DurationVar(&opts.PromptTimeout, "prompt-timeout", 0, "Deadline for interactive prompts (default 5m)")

	root.AddCommand(upcmd.Cmd(&opts))
	root.AddCommand(provisioncmd.Cmd(&opts))
	root.AddCommand(setupcmd.Cmd(&opts))
	root.AddCommand(doctorcmd.Cmd(&opts))
	root.AddCommand(runscmd.Cmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
