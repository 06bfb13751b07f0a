package install

import (
	"context"
	"fmt"

	"townboot/internal/fetch"
	"townboot/internal/system"
)

// EnsureTailscale installs the mesh VPN client when absent.
func EnsureTailscale(ctx context.Context, r system.Runner, client *fetch.Client, url, sha256 string) (installed bool, err error) {
	if _, ok := r.Look("tailscale"); ok {
		return false, nil
	}
	if err := Script(ctx, r, client, "tailscale", url, sha256, ""); err != nil {
		return false, err
	}
	return true, nil
}

// TailscaleUp brings the tunnel online. Unconditional: re-asserting an
// established tunnel is harmless, and first-time runs print an auth URL
// that needs the operator's browser.
func TailscaleUp(ctx context.Context, r system.Runner) error {
	if err := r.Interactive(ctx, "tailscale", "up"); err != nil {
		return fmt.Errorf("tailscale up: %w", err)
	}
	return nil
}

// EnsureDolt installs the Dolt database engine when absent. The vendor
// script needs root to place the binary in /usr/local/bin.
func EnsureDolt(ctx context.Context, r system.Runner, client *fetch.Client, url, sha256 string) (installed bool, err error) {
	if _, ok := r.Look("dolt"); ok {
		return false, nil
	}
	if err := Script(ctx, r, client, "dolt", url, sha256, "sudo"); err != nil {
		return false, err
	}
	return true, nil
}

// ConfigureDoltIdentity writes name and email into dolt's global
// config. Callers treat failure as a warning: dolt identity is
// re-derivable and must not abort a bootstrap.
func ConfigureDoltIdentity(ctx context.Context, r system.Runner, name, email string) error {
	if _, ok := r.Look("dolt"); !ok {
		return fmt.Errorf("dolt not on PATH")
	}
	if err := r.Run(ctx, "dolt", "config", "--global", "--add", "user.name", name); err != nil {
		return fmt.Errorf("set dolt user.name: %w", err)
	}
	if err := r.Run(ctx, "dolt", "config", "--global", "--add", "user.email", email); err != nil {
		return fmt.Errorf("set dolt user.email: %w", err)
	}
	return nil
}

// EnsureAgentCLI installs the agent assistant CLI when absent.
func EnsureAgentCLI(ctx context.Context, r system.Runner, client *fetch.Client, url, sha256 string) (installed bool, err error) {
	if _, ok := r.Look("claude"); ok {
		return false, nil
	}
	if err := Script(ctx, r, client, "claude", url, sha256, ""); err != nil {
		return false, err
	}
	return true, nil
}

// AgentLogin launches the agent CLI's interactive login. The caller
// bounds ctx: a login flow blocked on a human should not hang the
// bootstrap forever.
func AgentLogin(ctx context.Context, r system.Runner) error {
	if err := r.Interactive(ctx, "claude", "/login"); err != nil {
		return fmt.Errorf("agent login: %w", err)
	}
	return nil
}
