package plans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"townboot/cmd/townboot/ui"
	"townboot/internal/forge"
	"townboot/internal/install"
	"townboot/internal/orchestrate"
	"townboot/internal/pkgmgr"
	"townboot/internal/profile"
	"townboot/internal/services"
	"townboot/internal/srcbuild"
	"townboot/internal/sshkey"
	"townboot/internal/toolchain"
	"townboot/internal/town"
)

// User builds the user-mode plan: toolchain, CLIs, town workspace, and
// services for the account townboot runs as.
func User(env *Env) orchestrate.Plan {
	cfg, r := env.Config, env.Runner

	return orchestrate.Plan{
		Name: "setup",
		Steps: []orchestrate.Step{
			{
				ID: "clock", Title: "Check clock skew", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error {
					skew, err := env.Clock.Check()
					if err != nil {
						return err
					}
					if !skew.Healthy(env.Clock.Threshold) {
						return fmt.Errorf("clock is %v off from %s", skew.Offset, skew.Pool)
					}
					return nil
				},
			},
			{
				ID: "ssh-key", Title: "Install SSH private key", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					return ensureSSHKey(ctx, env)
				},
			},
			{
				ID: "packages", Title: "Install packages", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					installed, err := pkgmgr.InstallMissing(ctx, r, cfg.Packages, true)
					if err != nil {
						return err
					}
					if len(installed) == 0 {
						return orchestrate.Skip("all %d packages present", len(cfg.Packages))
					}
					return nil
				},
			},
			{
				ID: "toolchain", Title: "Install Go toolchain", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					if _, ok := r.Look("go"); ok {
						return orchestrate.Skip("go already on PATH")
					}
					if _, err := os.Stat(filepath.Join(cfg.GoInstall, "bin", "go")); err == nil {
						return orchestrate.Skip("%s already installed", cfg.GoInstall)
					}
					if _, err := os.Stat(cfg.GoInstall); err == nil {
						// Directory exists but holds no go binary: a broken
						// or foreign installation. Replacing it destroys
						// whatever is there, so ask first.
						confirmCtx, cancel := context.WithTimeout(ctx, cfg.PromptTimeout)
						defer cancel()
						replace, err := ui.Confirm(confirmCtx,
							fmt.Sprintf("%s exists but has no go binary. Replace it?", cfg.GoInstall),
							"remove the directory and rerun")
						if err != nil {
							return err
						}
						if !replace {
							return fmt.Errorf("left %s in place", cfg.GoInstall)
						}
					}
					installer := &toolchain.Installer{
						Client:     env.Fetch,
						IndexURL:   cfg.GoDistIndex,
						InstallDir: cfg.GoInstall,
						Sudo:       os.Geteuid() != 0,
						Runner:     r,
					}
					_, err := installer.Install(ctx)
					return err
				},
			},
			{
				ID: "profile-path", Title: "Manage profile PATH", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					home, err := homeDir()
					if err != nil {
						return err
					}
					dirs := toolchainPath(cfg, home)
					changed, err := profile.EnsurePathLine(
						filepath.Join(home, ".bashrc"), profile.PathLine(dirs...))
					if err != nil {
						return err
					}
					if err := profile.ExportCurrent(dirs...); err != nil {
						return err
					}
					if !changed {
						return orchestrate.Skip("profile already canonical")
					}
					return nil
				},
			},
			{
				ID: "agent-cli", Title: "Install agent CLI", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					agent := cfg.Installers["agent"]
					installed, err := install.EnsureAgentCLI(ctx, r, env.Fetch, agent.URL, agent.SHA256)
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
				ID: "agent-login", Title: "Agent login", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error {
					if ui.IsNoInteraction() {
						return fmt.Errorf("no terminal for `claude /login`; run it manually")
					}
					loginCtx, cancel := context.WithTimeout(ctx, cfg.PromptTimeout)
					defer cancel()
					return install.AgentLogin(loginCtx, r)
				},
			},
			{
				ID: "gh-cli", Title: "Install GitHub CLI", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					installed, err := forge.EnsureCLI(ctx, r, env.Fetch)
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
				ID: "gh-auth", Title: "Authenticate GitHub CLI", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					if forge.Authenticated(ctx, r) {
						return orchestrate.Skip("already authenticated")
					}
					if ui.IsNoInteraction() {
						return fmt.Errorf("no terminal for `gh auth login`; authenticate and rerun")
					}
					loginCtx, cancel := context.WithTimeout(ctx, cfg.PromptTimeout)
					defer cancel()
					return forge.Login(loginCtx, r)
				},
			},
			{
				ID: "identity", Title: "Configure git and dolt identity", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error {
					id, err := forge.FetchIdentity(ctx, r)
					if err != nil {
						return err
					}
					if err := forge.ConfigureGit(ctx, r, id); err != nil {
						return err
					}
					return install.ConfigureDoltIdentity(ctx, r, id.Name, id.Email)
				},
			},
			{
				ID: "git-integration", Title: "Wire git credentials to gh", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					return forge.ConfigureGitIntegration(ctx, r)
				},
			},
			{
				ID: "dolt", Title: "Install dolt", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					d := cfg.Installers["dolt"]
					installed, err := install.EnsureDolt(ctx, r, env.Fetch, d.URL, d.SHA256)
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
				ID: "gt-build", Title: "Build gt from source", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					return buildTool(ctx, env, "gt", nil)
				},
			},
			{
				ID: "bd-build", Title: "Build bd from source", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					var patch *srcbuild.Patch
					if cfg.BeadsPatch != nil {
						patch = &srcbuild.Patch{
							File: cfg.BeadsPatch.File,
							Old:  cfg.BeadsPatch.Old,
							New:  cfg.BeadsPatch.New,
						}
					}
					return buildTool(ctx, env, "bd", patch)
				},
			},
			{
				ID: "town-install", Title: "Install town workspace", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					installed, err := town.EnsureInstalled(ctx, r, cfg.TownRoot)
					if err != nil {
						return err
					}
					if !installed {
						return orchestrate.Skip("town exists at %s", cfg.TownRoot)
					}
					return nil
				},
			},
			{
				ID: "town-enable", Title: "Enable town", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error { return town.Enable(ctx, r) },
			},
			{
				ID: "town-repo-init", Title: "Initialize issue database", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error { return town.InitBeads(ctx, r) },
			},
			{
				ID: "town-prime", Title: "Prime town context", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error { return town.Prime(ctx, r) },
			},
			{
				ID: "town-up", Title: "Start town", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error { return town.Up(ctx, r) },
			},
			{
				ID: "services", Title: "Register user services", Policy: orchestrate.PolicyFatal,
				Run: func(ctx context.Context) error {
					return registerServices(ctx, env)
				},
			},
			{
				ID: "verify", Title: "Run gt doctor", Policy: orchestrate.PolicyWarn,
				Run: func(ctx context.Context) error { return town.Doctor(ctx, r) },
			},
		},
	}
}

func buildTool(ctx context.Context, env *Env, name string, patch *srcbuild.Patch) error {
	cfg := env.Config
	spec, ok := cfg.Tools[name]
	if !ok {
		return fmt.Errorf("no source repository configured for %s", name)
	}

	builder := &srcbuild.Builder{
		Runner:    env.Runner,
		Workspace: cfg.Workspace,
		BinDir:    cfg.BinDir,
	}
	built, err := builder.Ensure(ctx, srcbuild.Tool{
		Name:    name,
		Repo:    spec.Repo,
		Package: spec.Package,
		Patch:   patch,
	})
	if err != nil {
		return err
	}
	if !built {
		return orchestrate.Skip("%s already on PATH", name)
	}
	return nil
}

// ensureSSHKey installs the user's private key: from the configured
// file when set, otherwise an interactive paste bounded by the prompt
// timeout. Encrypted keys get their passphrase stripped so unattended
// agents can use them.
func ensureSSHKey(ctx context.Context, env *Env) error {
	cfg, r := env.Config, env.Runner

	path := sshkey.DefaultPath()
	if _, err := os.Stat(path); err == nil {
		return orchestrate.Skip("key exists at %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	var material string
	if cfg.PrivateKeyFile != "" {
		raw, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read key file: %w", err)
		}
		material = string(raw)
	} else {
		if err := ui.RequireInteraction("set private_key_file in the config or TOWNBOOT_PRIVATE_KEY_FILE"); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s\n", ui.InfoMsg("Paste the SSH private key, then a line containing only %q:", sshkey.Terminator))

		pasteCtx, cancel := context.WithTimeout(ctx, cfg.PromptTimeout)
		defer cancel()
		var err error
		material, err = readPaste(pasteCtx, os.Stdin)
		if err != nil {
			return err
		}
	}

	encrypted, err := sshkey.Validate(material)
	if err != nil {
		return err
	}

	passphrase := cfg.KeyPassphrase
	if encrypted && passphrase == "" {
		secretCtx, cancel := context.WithTimeout(ctx, cfg.PromptTimeout)
		defer cancel()
		passphrase, err = ui.Secret(secretCtx, "Key passphrase", "set TOWNBOOT_KEY_PASSPHRASE")
		if err != nil {
			return err
		}
	}

	if err := sshkey.Install(path, material); err != nil {
		return err
	}
	if encrypted {
		if err := sshkey.StripPassphrase(ctx, r, path, passphrase); err != nil {
			return err
		}
	}
	return nil
}

// readPaste runs the terminator-delimited read under ctx so a stalled
// paste cannot hang the bootstrap. On timeout the reader goroutine
// stays parked on stdin until the process exits; a run prompts for at
// most one key, so at most one goroutine leaks.
func readPaste(ctx context.Context, f *os.File) (string, error) {
	type result struct {
		material string
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		material, err := sshkey.ReadUntilTerminator(f)
		ch <- result{material, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("key paste timed out: %w", ctx.Err())
	case res := <-ch:
		return res.material, res.err
	}
}

// registerServices installs both user units, patches the generated one
// when it lacks a PATH, and brings everything up under linger.
func registerServices(ctx context.Context, env *Env) error {
	cfg, r := env.Config, env.Runner

	home, err := homeDir()
	if err != nil {
		return err
	}
	unitDir := services.UnitDir()
	pathEnv := servicePathEnv(cfg, home)

	if err := services.WriteDashboardUnit(unitDir, filepath.Join(cfg.BinDir, "gt"), pathEnv); err != nil {
		return err
	}
	if err := services.GenerateDaemonUnit(ctx, r); err != nil {
		return err
	}

	patched, err := services.EnsurePathEnv(filepath.Join(unitDir, services.DaemonUnit), pathEnv)
	if err != nil {
		return err
	}

	username := currentUsername()
	if err := services.EnableLinger(ctx, r, username); err != nil {
		return err
	}
	if err := services.DaemonReload(ctx, r); err != nil {
		return err
	}
	if err := services.EnableNow(ctx, r, services.DashboardUnit); err != nil {
		return err
	}
	if err := services.EnableNow(ctx, r, services.DaemonUnit); err != nil {
		return err
	}
	if patched {
		if err := services.Restart(ctx, r, services.DaemonUnit); err != nil {
			return err
		}
	}
	return nil
}

func currentUsername() string {
	if v := strings.TrimSpace(os.Getenv("USER")); v != "" {
		return v
	}
	return fmt.Sprintf("%d", os.Getuid())
}
