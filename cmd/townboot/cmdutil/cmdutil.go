// Package cmdutil holds the shared command plumbing: loading the
// environment, executing a plan with live progress, and turning its
// report into terminal output and a journal entry.
package cmdutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"townboot/cmd/townboot/plans"
	"townboot/cmd/townboot/ui"
	"townboot/internal/config"
	"townboot/internal/journal"
	"townboot/internal/orchestrate"
)

// Options are the root persistent flag values shared by subcommands.
type Options struct {
	ConfigPath    string
	PromptTimeout time.Duration
}

// LoadEnv builds the plan environment from config, env, and flags.
func LoadEnv(opts *Options) (*plans.Env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.PromptTimeout > 0 {
		cfg.PromptTimeout = opts.PromptTimeout
	}
	return plans.NewEnv(cfg), nil
}

// RunPlan executes the plan with checklist progress, journals the
// report, and prints the summary. The returned error carries the fatal
// step failure when one occurred.
func RunPlan(ctx context.Context, plan orchestrate.Plan) error {
	out := ui.NewTelemetryOutput()
	report, execErr := orchestrate.Execute(ctx, out.Tracer("townboot"), plan)
	out.Close()

	if report != nil {
		recordRun(report)
		printSummary(report)
	}
	return execErr
}

// recordRun journals the report. Journal trouble must never change the
// run's exit status, so failures are only logged.
func recordRun(report *orchestrate.Report) {
	store, err := journal.Open(journal.DefaultPath())
	if err != nil {
		slog.Warn("journal unavailable", "error", err)
		return
	}
	defer store.Close()
	if _, err := store.Record(report); err != nil {
		slog.Warn("journal write failed", "error", err)
	}
}

func printSummary(report *orchestrate.Report) {
	fmt.Fprintln(os.Stderr)
	for _, res := range report.Results {
		switch res.Status {
		case orchestrate.StatusWarned:
			fmt.Fprintln(os.Stderr, ui.WarnMsg("%s: %s", res.Title, res.Detail))
		case orchestrate.StatusFailed:
			fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s: %s", res.Title, res.Detail))
		}
	}

	elapsed := report.Finished.Sub(report.Started).Round(time.Second)
	switch {
	case report.Failed():
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s failed after %v", report.Name, elapsed))
	case report.Warned():
		fmt.Fprintln(os.Stderr, ui.WarnMsg("%s complete with warnings in %v", report.Name, elapsed))
	default:
		fmt.Fprintln(os.Stderr, ui.SuccessMsg("%s complete in %v", report.Name, elapsed))
	}
}
