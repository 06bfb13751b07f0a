// Package runscmd lists journaled bootstrap runs.
package runscmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"townboot/cmd/townboot/ui"
	"townboot/internal/journal"
)

// Cmd returns the "townboot runs" command.
func Cmd() *cobra.Command {
	var (
		limit int
		last  bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recorded bootstrap runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := journal.Open(journal.DefaultPath())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println(ui.InfoMsg("no runs recorded yet"))
				return nil
			}

			if last {
				run, err := store.Get(runs[0].ID)
				if err != nil {
					return err
				}
				printRun(run)
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					strconv.FormatInt(run.ID, 10),
					run.Plan,
					run.Started.Local().Format(time.DateTime),
					run.Finished.Sub(run.Started).Round(time.Second).String(),
					styledOutcome(run.Outcome),
				})
			}
			fmt.Println(ui.Table([]string{"ID", "PLAN", "STARTED", "TOOK", "OUTCOME"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "How many runs to list")
	cmd.Flags().BoolVar(&last, "last", false, "Show per-step results of the newest run")
	return cmd
}

func printRun(run journal.Run) {
	fmt.Println(ui.KeyValues("  ",
		ui.KV("Plan", run.Plan),
		ui.KV("Started", run.Started.Local().Format(time.DateTime)),
		ui.KV("Outcome", styledOutcome(run.Outcome)),
	))

	rows := make([][]string, 0, len(run.Steps))
	for _, step := range run.Steps {
		rows = append(rows, []string{
			step.ID,
			string(step.Status),
			step.Duration.Round(time.Millisecond).String(),
			step.Detail,
		})
	}
	fmt.Println(ui.Table([]string{"STEP", "STATUS", "TOOK", "DETAIL"}, rows))
}

func styledOutcome(outcome string) string {
	switch outcome {
	case "ok":
		return ui.Success(outcome)
	case "warned":
		return ui.Warn(outcome)
	default:
		return ui.ErrorStyle.Render(outcome)
	}
}
