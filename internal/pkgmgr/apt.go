// Package pkgmgr drives APT. Installed state is probed with dpkg so the
// install step issues exactly one batched command for the missing
// subset, and none at all when the host is already converged.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	"townboot/internal/system"
)

// Installed reports whether pkg is in dpkg's installed state.
func Installed(ctx context.Context, r system.Runner, pkg string) bool {
	out, err := r.Output(ctx, "dpkg", "-s", pkg)
	if err != nil {
		return false
	}
	return strings.Contains(out, "Status: install ok installed")
}

// Missing returns the subset of required packages not yet installed,
// preserving order.
func Missing(ctx context.Context, r system.Runner, required []string) []string {
	var missing []string
	for _, pkg := range required {
		if !Installed(ctx, r, pkg) {
			missing = append(missing, pkg)
		}
	}
	return missing
}

// InstallMissing installs the missing subset of required in one batched
// apt-get call. sudo prefixes the command when the caller is not root.
func InstallMissing(ctx context.Context, r system.Runner, required []string, sudo bool) (installed []string, err error) {
	missing := Missing(ctx, r, required)
	if len(missing) == 0 {
		return nil, nil
	}

	args := append([]string{"install", "-y"}, missing...)
	name := "apt-get"
	if sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	if err := r.Run(ctx, name, args...); err != nil {
		return nil, fmt.Errorf("install packages %s: %w", strings.Join(missing, " "), err)
	}
	return missing, nil
}

// AddRepository registers an APT source with its signing key already in
// place, then refreshes the index. Used for the GitHub CLI repository.
func AddRepository(ctx context.Context, r system.Runner, sourcesFile, sourceLine string, sudo bool) error {
	writeCmd := fmt.Sprintf("echo %q > %s", sourceLine, sourcesFile)
	name, args := "sh", []string{"-c", writeCmd}
	if sudo {
		name, args = "sudo", []string{"sh", "-c", writeCmd}
	}
	if err := r.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("write apt source %s: %w", sourcesFile, err)
	}

	name, args = "apt-get", []string{"update"}
	if sudo {
		name, args = "sudo", []string{"apt-get", "update"}
	}
	if err := r.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	return nil
}
