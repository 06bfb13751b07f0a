// Package town drives the Gas Town CLIs once they are built: workspace
// installation and the lifecycle subcommands that bring a town online.
// Lifecycle calls are opaque; their exit status is the only contract.
package town

import (
	"context"
	"fmt"
	"os"

	"townboot/internal/system"
)

// EnsureInstalled materializes the town workspace at root via
// `gt install` unless the marker directory already exists.
func EnsureInstalled(ctx context.Context, r system.Runner, root string) (installed bool, err error) {
	if _, statErr := os.Stat(root); statErr == nil {
		return false, nil
	} else if !os.IsNotExist(statErr) {
		return false, fmt.Errorf("stat town root: %w", statErr)
	}

	if err := r.Run(ctx, "gt", "install", root); err != nil {
		return false, fmt.Errorf("gt install %s: %w", root, err)
	}
	return true, nil
}

// Enable turns the town on.
func Enable(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "gt", "enable"); err != nil {
		return fmt.Errorf("gt enable: %w", err)
	}
	return nil
}

// InitBeads initializes the issue database the agents coordinate
// through.
func InitBeads(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "bd", "init"); err != nil {
		return fmt.Errorf("bd init: %w", err)
	}
	return nil
}

// Prime loads the town context for the agent identities.
func Prime(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "gt", "prime"); err != nil {
		return fmt.Errorf("gt prime: %w", err)
	}
	return nil
}

// Up starts the town services.
func Up(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "gt", "up"); err != nil {
		return fmt.Errorf("gt up: %w", err)
	}
	return nil
}

// Doctor runs gt's own self-check and returns its combined verdict.
func Doctor(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "gt", "doctor"); err != nil {
		return fmt.Errorf("gt doctor: %w", err)
	}
	return nil
}
