package plans

import (
	"context"
	"fmt"
	"log/slog"

	"townboot/cmd/townboot/ui"
	"townboot/internal/hostprep"
)

// promptRequired is swapped in tests.
var promptRequired = ui.PromptRequired

// ResolveRootInputs fills the root-mode inputs still missing after
// config and environment: hostname, username, and the SSH public key.
// Prompting is the fallback of last resort and is bounded by the
// configured prompt timeout. Prompted values are written back to the
// config file so a rerun does not re-prompt.
func ResolveRootInputs(ctx context.Context, env *Env) error {
	cfg := env.Config

	promptCtx, cancel := context.WithTimeout(ctx, cfg.PromptTimeout)
	defer cancel()

	prompted := false
	if cfg.Hostname == "" {
		v, err := promptRequired(promptCtx, "Hostname for this machine", "box1",
			"set hostname in the config or TOWNBOOT_HOSTNAME")
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		cfg.Hostname = v
		prompted = true
	}

	if cfg.Username == "" {
		v, err := promptRequired(promptCtx, "Town user account", "dev",
			"set username in the config or TOWNBOOT_USERNAME")
		if err != nil {
			return fmt.Errorf("resolve username: %w", err)
		}
		cfg.Username = v
		prompted = true
	}

	if cfg.AuthorizedKey == "" {
		v, err := promptRequired(promptCtx, "SSH public key to authorize", "ssh-ed25519 AAAA...",
			"set authorized_key in the config or TOWNBOOT_AUTHORIZED_KEY")
		if err != nil {
			return fmt.Errorf("resolve authorized key: %w", err)
		}
		cfg.AuthorizedKey = v
		prompted = true
	}

	if err := hostprep.ValidateAuthorizedKey(cfg.AuthorizedKey); err != nil {
		return err
	}

	if prompted {
		// Best effort: a read-only config location just means the next
		// run prompts again.
		if err := cfg.Save(); err != nil {
			slog.Warn("could not persist resolved inputs", "path", cfg.Path(), "error", err)
		}
	}
	return nil
}
