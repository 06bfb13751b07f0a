// Package forge integrates the host with GitHub: CLI installation from
// the vendor APT repository, authentication, and identity derivation
// for git and dolt configuration.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"townboot/internal/fetch"
	"townboot/internal/pkgmgr"
	"townboot/internal/system"
)

const (
	keyringURL  = "https://cli.github.com/packages/githubcli-archive-keyring.gpg"
	keyringPath = "/etc/apt/keyrings/githubcli-archive-keyring.gpg"
	sourcesFile = "/etc/apt/sources.list.d/github-cli.list"
)

// EnsureCLI installs gh from GitHub's APT repository when absent.
func EnsureCLI(ctx context.Context, r system.Runner, client *fetch.Client) (installed bool, err error) {
	if _, ok := r.Look("gh"); ok {
		return false, nil
	}

	tmp, err := os.CreateTemp("", "githubcli-keyring-*.gpg")
	if err != nil {
		return false, fmt.Errorf("create temp keyring: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := client.File(ctx, keyringURL, tmp.Name(), ""); err != nil {
		return false, fmt.Errorf("fetch signing key: %w", err)
	}
	if err := r.Run(ctx, "sudo", "install", "-D", "-m", "644", tmp.Name(), keyringPath); err != nil {
		return false, fmt.Errorf("install signing key: %w", err)
	}

	arch, err := r.Output(ctx, "dpkg", "--print-architecture")
	if err != nil {
		return false, fmt.Errorf("detect dpkg architecture: %w", err)
	}
	sourceLine := fmt.Sprintf("deb [arch=%s signed-by=%s] https://cli.github.com/packages stable main",
		strings.TrimSpace(arch), keyringPath)
	if err := pkgmgr.AddRepository(ctx, r, sourcesFile, sourceLine, true); err != nil {
		return false, err
	}

	if err := r.Run(ctx, "sudo", "apt-get", "install", "-y", "gh"); err != nil {
		return false, fmt.Errorf("install gh: %w", err)
	}
	return true, nil
}

// Authenticated reports whether gh already holds credentials.
func Authenticated(ctx context.Context, r system.Runner) bool {
	return r.Run(ctx, "gh", "auth", "status") == nil
}

// Login runs the interactive device/browser flow. SSH git remotes are
// preferred and no new key is generated: the key installed earlier is
// the one on the account.
func Login(ctx context.Context, r system.Runner) error {
	if err := r.Interactive(ctx, "gh", "auth", "login", "--git-protocol", "ssh", "--skip-ssh-key"); err != nil {
		return fmt.Errorf("gh auth login: %w", err)
	}
	return nil
}

// Identity is the name/email pair derived from the GitHub account.
type Identity struct {
	Login string
	Name  string
	Email string
}

// FetchIdentity queries the authenticated profile. Name falls back to
// the login handle; email falls back to <login>@localhost since GitHub
// profiles may hide it.
func FetchIdentity(ctx context.Context, r system.Runner) (Identity, error) {
	out, err := r.Output(ctx, "gh", "api", "user")
	if err != nil {
		return Identity{}, fmt.Errorf("query github profile: %w", err)
	}

	var profile struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal([]byte(out), &profile); err != nil {
		return Identity{}, fmt.Errorf("parse github profile: %w", err)
	}
	if strings.TrimSpace(profile.Login) == "" {
		return Identity{}, fmt.Errorf("github profile has no login")
	}

	id := Identity{Login: profile.Login, Name: strings.TrimSpace(profile.Name), Email: strings.TrimSpace(profile.Email)}
	if id.Name == "" {
		id.Name = id.Login
	}
	if id.Email == "" {
		id.Email = id.Login + "@localhost"
	}
	return id, nil
}

// ConfigureGit writes the identity into global git configuration.
func ConfigureGit(ctx context.Context, r system.Runner, id Identity) error {
	if err := r.Run(ctx, "git", "config", "--global", "user.name", id.Name); err != nil {
		return fmt.Errorf("set git user.name: %w", err)
	}
	if err := r.Run(ctx, "git", "config", "--global", "user.email", id.Email); err != nil {
		return fmt.Errorf("set git user.email: %w", err)
	}
	return nil
}

// ConfigureGitIntegration delegates git's credential path to gh and
// pins the default branch for new repositories.
func ConfigureGitIntegration(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "gh", "auth", "setup-git"); err != nil {
		return fmt.Errorf("gh auth setup-git: %w", err)
	}
	if err := r.Run(ctx, "git", "config", "--global", "init.defaultBranch", "main"); err != nil {
		return fmt.Errorf("set init.defaultBranch: %w", err)
	}
	return nil
}
