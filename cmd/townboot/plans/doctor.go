package plans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"townboot/internal/forge"
	"townboot/internal/pkgmgr"
	"townboot/internal/profile"
	"townboot/internal/services"
)

// Probe is one read-only convergence check.
type Probe struct {
	Name   string
	OK     bool
	Detail string
}

// Doctor re-checks the observable state every setup step converges on,
// without mutating anything. Failed probes name the setup step that
// fixes them.
func Doctor(ctx context.Context, env *Env) []Probe {
	cfg, r := env.Config, env.Runner
	var probes []Probe

	add := func(name string, ok bool, detail string) {
		probes = append(probes, Probe{Name: name, OK: ok, Detail: detail})
	}

	// Binaries each step installs.
	for _, bin := range []string{"tailscale", "go", "gh", "dolt", "claude", "gt", "bd"} {
		if path, ok := r.Look(bin); ok {
			add(bin, true, path)
		} else {
			add(bin, false, "not on PATH")
		}
	}

	missing := pkgmgr.Missing(ctx, r, cfg.Packages)
	if len(missing) == 0 {
		add("packages", true, fmt.Sprintf("%d required packages installed", len(cfg.Packages)))
	} else {
		add("packages", false, "missing: "+strings.Join(missing, " "))
	}

	if home, err := os.UserHomeDir(); err == nil {
		keyPath := filepath.Join(home, ".ssh", "id_ed25519")
		if _, err := os.Stat(keyPath); err == nil {
			add("ssh-key", true, keyPath)
		} else {
			add("ssh-key", false, "no private key at "+keyPath)
		}

		line, err := managedPathLines(filepath.Join(home, ".bashrc"))
		switch {
		case err != nil:
			add("profile-path", false, err.Error())
		case line == 1:
			add("profile-path", true, "exactly one managed PATH line")
		default:
			add("profile-path", false, fmt.Sprintf("%d managed PATH lines, want 1", line))
		}
	}

	add("gh-auth", forge.Authenticated(ctx, r), "")

	if _, err := os.Stat(cfg.TownRoot); err == nil {
		add("town", true, cfg.TownRoot)
	} else {
		add("town", false, "no workspace at "+cfg.TownRoot)
	}

	for _, unit := range []string{services.DashboardUnit, services.DaemonUnit} {
		active := services.Active(ctx, r, unit)
		enabled := services.Enabled(ctx, r, unit)
		switch {
		case active && enabled:
			add(unit, true, "active")
		case active:
			add(unit, false, "active but not enabled")
		default:
			add(unit, false, "not active")
		}
	}

	if skew, err := env.Clock.Check(); err != nil {
		add("clock", false, err.Error())
	} else if skew.Healthy(env.Clock.Threshold) {
		add("clock", true, fmt.Sprintf("offset %v", skew.Offset.Round(time.Millisecond)))
	} else {
		add("clock", false, fmt.Sprintf("offset %v exceeds %v", skew.Offset, env.Clock.Threshold))
	}

	return probes
}

func managedPathLines(profilePath string) (int, error) {
	raw, err := os.ReadFile(profilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read profile: %w", err)
	}
	count := 0
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.Contains(line, profile.Marker) {
			count++
		}
	}
	return count, nil
}
