// Package services registers the Gas Town background services with the
// user systemd instance: the dashboard (unit templated here) and the
// supervisor daemon (unit generated by gt itself, patched when the
// generator omits a PATH environment). Linger keeps both running
// without an active login session.
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"townboot/internal/system"
)

const (
	DashboardUnit = "gastown-dashboard.service"
	DaemonUnit    = "gastown-daemon.service"
)

// UnitDir returns the user-scope systemd unit directory.
func UnitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "systemd", "user")
	}
	return filepath.Join(home, ".config", "systemd", "user")
}

// WriteDashboardUnit renders and installs the dashboard unit. The PATH
// environment is interpolated so the service sees the toolchain and
// ~/.local/bin without a login shell.
func WriteDashboardUnit(unitDir, gtBin, pathEnv string) error {
	content := fmt.Sprintf(`[Unit]
Description=Gas Town dashboard
After=network-online.target

[Service]
Type=simple
Environment=PATH=%s
ExecStart=%s dash serve
Restart=always
RestartSec=5

[Install]
WantedBy=default.target
`, pathEnv, gtBin)

	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(unitDir, DashboardUnit), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write dashboard unit: %w", err)
	}
	return nil
}

// GenerateDaemonUnit asks gt to write its own supervisor unit into the
// user unit directory.
func GenerateDaemonUnit(ctx context.Context, r system.Runner) error {
	if err := r.Run(ctx, "gt", "daemon", "unit", "--user", "--write"); err != nil {
		return fmt.Errorf("generate daemon unit: %w", err)
	}
	return nil
}

// EnsurePathEnv patches an Environment=PATH= line into the [Service]
// section when the unit lacks one. Returns whether the file changed so
// the caller knows to restart the service.
func EnsurePathEnv(unitPath, pathEnv string) (patched bool, err error) {
	raw, err := os.ReadFile(unitPath)
	if err != nil {
		return false, fmt.Errorf("read unit: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Environment=PATH=") {
			return false, nil
		}
	}

	inserted := false
	var next []string
	for _, line := range lines {
		next = append(next, line)
		if strings.TrimSpace(line) == "[Service]" && !inserted {
			next = append(next, "Environment=PATH="+pathEnv)
			inserted = true
		}
	}
	if !inserted {
		return false, fmt.Errorf("unit %s has no [Service] section", unitPath)
	}

	if err := os.WriteFile(unitPath, []byte(strings.Join(next, "\n")), 0o644); err != nil {
		return false, fmt.Errorf("write unit: %w", err)
	}
	return true, nil
}

// systemd control, user scope.

func DaemonReload(ctx context.Context, r system.Runner) error {
	return userSystemctl(ctx, r, "daemon-reload")
}

func EnableNow(ctx context.Context, r system.Runner, unit string) error {
	return userSystemctl(ctx, r, "enable", "--now", unit)
}

func Restart(ctx context.Context, r system.Runner, unit string) error {
	return userSystemctl(ctx, r, "restart", unit)
}

// Active reports whether the unit is running.
func Active(ctx context.Context, r system.Runner, unit string) bool {
	return r.Run(ctx, "systemctl", "--user", "is-active", "--quiet", unit) == nil
}

// Enabled reports whether the unit is enabled.
func Enabled(ctx context.Context, r system.Runner, unit string) bool {
	return r.Run(ctx, "systemctl", "--user", "is-enabled", "--quiet", unit) == nil
}

// EnableLinger lets user services outlive login sessions.
func EnableLinger(ctx context.Context, r system.Runner, username string) error {
	if err := r.Run(ctx, "loginctl", "enable-linger", username); err != nil {
		return fmt.Errorf("enable linger: %w", err)
	}
	return nil
}

func userSystemctl(ctx context.Context, r system.Runner, args ...string) error {
	full := append([]string{"--user"}, args...)
	if err := r.Run(ctx, "systemctl", full...); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
