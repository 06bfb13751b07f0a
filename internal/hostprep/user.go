package hostprep

import (
	"context"
	"fmt"
	"strings"

	"townboot/internal/system"
)

// UserExists probes for an account with `id -u`.
func UserExists(ctx context.Context, r system.Runner, username string) bool {
	_, err := r.Output(ctx, "id", "-u", username)
	return err == nil
}

// EnsureUser creates username with a home directory, bash shell, and a
// deleted (empty) password. SSH key auth is the sole login factor by
// design. Existing accounts are left untouched.
func EnsureUser(ctx context.Context, r system.Runner, username string) (created bool, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, fmt.Errorf("username is empty")
	}
	if UserExists(ctx, r, username) {
		return false, nil
	}

	if err := r.Run(ctx, "useradd", "-m", "-s", "/bin/bash", username); err != nil {
		return false, fmt.Errorf("create user %s: %w", username, err)
	}
	if err := r.Run(ctx, "passwd", "-d", username); err != nil {
		return false, fmt.Errorf("clear password for %s: %w", username, err)
	}
	return true, nil
}

// EnsureTool installs an OS package when its binary is absent. Used for
// sudo and curl in root mode.
func EnsureTool(ctx context.Context, r system.Runner, binary, pkg string) (installed bool, err error) {
	if _, ok := r.Look(binary); ok {
		return false, nil
	}
	if err := r.Run(ctx, "apt-get", "update"); err != nil {
		return false, fmt.Errorf("apt-get update: %w", err)
	}
	if err := r.Run(ctx, "apt-get", "install", "-y", pkg); err != nil {
		return false, fmt.Errorf("install %s: %w", pkg, err)
	}
	return true, nil
}
