// Package install runs vendor install scripts for the tools townboot
// cannot get from APT: the Tailscale client, the Dolt database engine,
// and the agent CLI. Scripts are downloaded to a temp file first and
// verified against a configured SHA-256 when one is supplied; running
// an unpinned script is allowed but logged loudly as a trust gap.
package install

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"townboot/internal/fetch"
	"townboot/internal/system"
)

// Script downloads an installer and executes it with sh. name is only
// for logging and temp file naming.
func Script(ctx context.Context, r system.Runner, client *fetch.Client, name, url, sha256, runAs string) error {
	if sha256 == "" {
		slog.Warn("running unverified install script", "name", name, "url", url)
	}

	tmp, err := os.CreateTemp("", name+"-install-*.sh")
	if err != nil {
		return fmt.Errorf("create temp script: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := client.File(ctx, url, tmp.Name(), sha256); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return fmt.Errorf("chmod install script: %w", err)
	}

	switch runAs {
	case "sudo":
		if err := r.Run(ctx, "sudo", "sh", tmp.Name()); err != nil {
			return fmt.Errorf("run %s installer: %w", name, err)
		}
	default:
		if err := r.Run(ctx, "sh", tmp.Name()); err != nil {
			return fmt.Errorf("run %s installer: %w", name, err)
		}
	}
	return nil
}
