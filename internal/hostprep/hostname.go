// Package hostprep holds the root-mode provisioning operations: host
// naming, account creation, SSH key authorization, and sudo policy.
// Every operation checks current state first so reruns converge.
package hostprep

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"townboot/internal/system"
)

// SetHostname renames the host. This is an unguarded overwrite:
// re-asserting the same name is harmless.
func SetHostname(ctx context.Context, r system.Runner, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("hostname is empty")
	}

	if _, ok := r.Look("hostnamectl"); ok {
		if err := r.Run(ctx, "hostnamectl", "set-hostname", name); err != nil {
			return fmt.Errorf("set hostname: %w", err)
		}
		return nil
	}

	// Non-systemd hosts: set the kernel hostname and persist it.
	if err := unix.Sethostname([]byte(name)); err != nil {
		return fmt.Errorf("sethostname: %w", err)
	}
	if err := os.WriteFile("/etc/hostname", []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("persist hostname: %w", err)
	}
	return nil
}
