// Package plans assembles the provisioning step plans the townboot
// commands execute. Root mode prepares the OS-level account and VPN;
// user mode installs the Gas Town toolchain and services. Step
// functions close over an Env so tests can swap the runner.
package plans

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"townboot/internal/clock"
	"townboot/internal/config"
	"townboot/internal/fetch"
	"townboot/internal/hostprep"
	"townboot/internal/install"
	"townboot/internal/orchestrate"
	"townboot/internal/system"
)

// Env carries everything a plan needs to run.
type Env struct {
	Config *config.Config
	Runner system.Runner
	Fetch  *fetch.Client
	Clock  *clock.Checker
}

func NewEnv(cfg *config.Config) *Env {
	return &Env{
		Config: cfg,
		Runner: system.NewExec(),
		Fetch:  fetch.New(),
		Clock:  clock.NewChecker(),
	}
}

// Root builds the root-mode provisioning plan. Config inputs must be
// resolved (ResolveRootInputs) before the plan runs.
func Root(env *Env) orchestrate.Plan {
	cfg, r := env.Config, env.Runner

	return orchestrate.Plan{
		Name: "provision",
		Steps: []orchestrate.Step{
			{
				ID: "hostname", Title: "Set hostname", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					return hostprep.SetHostname(ctx, r, cfg.Hostname)
				},
			},
			{
				ID: "sudo", Title: "Install sudo", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					installed, err := hostprep.EnsureTool(ctx, r, "sudo", "sudo")
					if err != nil {
						return err
					}
					if !installed {
						return orchestrate.Skip("already installed")
					}
					return nil
				},
			},
			{
				ID: "user", Title: "Create town user", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					created, err := hostprep.EnsureUser(ctx, r, cfg.Username)
					if err != nil {
						return err
					}
					if !created {
						return orchestrate.Skip("user %s exists", cfg.Username)
					}
					return nil
				},
			},
			{
				ID: "authorized-key", Title: "Authorize SSH key", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					target, err := keyTarget(cfg.Username)
					if err != nil {
						return err
					}
					added, err := hostprep.EnsureAuthorizedKey(target, cfg.AuthorizedKey)
					if err != nil {
						return err
					}
					if !added {
						return orchestrate.Skip("key already authorized")
					}
					return nil
				},
			},
			{
				ID: "ssh-perms", Title: "Normalize SSH permissions", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					target, err := keyTarget(cfg.Username)
					if err != nil {
						return err
					}
					return hostprep.NormalizeSSHPerms(target)
				},
			},
			{
				ID: "sudoers", Title: "Grant passwordless sudo", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					created, err := hostprep.EnsureSudoers(cfg.Username)
					if err != nil {
						return err
					}
					if !created {
						return orchestrate.Skip("drop-in exists")
					}
					return nil
				},
			},
			{
				ID: "curl", Title: "Install curl", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					installed, err := hostprep.EnsureTool(ctx, r, "curl", "curl")
					if err != nil {
						return err
					}
					if !installed {
						return orchestrate.Skip("already installed")
					}
					return nil
				},
			},
			{
				ID: "vpn-install", Title: "Install tailscale", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					ts := cfg.Installers["tailscale"]
					installed, err := install.EnsureTailscale(ctx, r, env.Fetch, ts.URL, ts.SHA256)
					if err != nil {
						return err
					}
					if !installed {
						return orchestrate.Skip("already installed")
					}
					return nil
				},
			},
			{
				ID: "vpn-up", Title: "Bring up tailscale", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					return install.TailscaleUp(ctx, r)
				},
			},
		},
	}
}

// keyTarget resolves the target user's .ssh directory and ownership.
func keyTarget(username string) (hostprep.KeyTarget, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return hostprep.KeyTarget{}, fmt.Errorf("lookup user %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return hostprep.KeyTarget{}, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return hostprep.KeyTarget{}, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return hostprep.KeyTarget{
		SSHDir: filepath.Join(u.HomeDir, ".ssh"),
		UID:    uid,
		GID:    gid,
	}, nil
}

// toolchainPath lists the directories the managed PATH line exports,
// in precedence order.
func toolchainPath(cfg *config.Config, home string) []string {
	return []string{
		cfg.BinDir,
		filepath.Join(cfg.GoInstall, "bin"),
		filepath.Join(home, "go", "bin"),
	}
}

// servicePathEnv is the PATH baked into the systemd user units: the
// managed directories plus the stock system path.
func servicePathEnv(cfg *config.Config, home string) string {
	dirs := append(toolchainPath(cfg, home), "/usr/local/bin", "/usr/bin", "/bin")
	return strings.Join(dirs, ":")
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home, nil
}
