package hostprep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyTarget locates a user's SSH directory for key installation.
// UID/GID of -1 leave ownership unchanged (used by tests).
type KeyTarget struct {
	SSHDir string
	UID    int
	GID    int
}

// ValidateAuthorizedKey rejects key material that does not parse as an
// OpenSSH public key line.
func ValidateAuthorizedKey(key string) error {
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(key))); err != nil {
		return fmt.Errorf("invalid SSH public key: %w", err)
	}
	return nil
}

// EnsureAuthorizedKey appends key to authorized_keys unless the file
// already contains it as an exact substring.
func EnsureAuthorizedKey(target KeyTarget, key string) (added bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("authorized key is empty")
	}

	if err := os.MkdirAll(target.SSHDir, 0o700); err != nil {
		return false, fmt.Errorf("create ssh directory: %w", err)
	}
	path := filepath.Join(target.SSHDir, "authorized_keys")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read authorized_keys: %w", err)
	}
	if strings.Contains(string(existing), key) {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return false, fmt.Errorf("open authorized_keys: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(key + "\n"); err != nil {
		return false, fmt.Errorf("append authorized key: %w", err)
	}
	return true, nil
}

// NormalizeSSHPerms re-asserts ownership and permissions on every run
// regardless of whether anything changed: 0700 directory, 0600 key file.
func NormalizeSSHPerms(target KeyTarget) error {
	if err := os.Chmod(target.SSHDir, 0o700); err != nil {
		return fmt.Errorf("chmod ssh directory: %w", err)
	}
	if err := os.Chown(target.SSHDir, target.UID, target.GID); err != nil {
		return fmt.Errorf("chown ssh directory: %w", err)
	}
	path := filepath.Join(target.SSHDir, "authorized_keys")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat authorized_keys: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod authorized_keys: %w", err)
	}
	if err := os.Chown(path, target.UID, target.GID); err != nil {
		return fmt.Errorf("chown authorized_keys: %w", err)
	}
	return nil
}
