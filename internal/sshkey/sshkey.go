// Package sshkey captures and installs the user's SSH private key. Key
// material arrives from a configured file or an interactive paste; it
// is validated before anything touches disk, and an encrypted key can
// have its passphrase stripped in place so unattended agents can use it.
package sshkey

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"townboot/internal/system"
)

// Terminator ends an interactive multi-line key paste.
const Terminator = "EOF"

// DefaultPath is where the captured key is installed.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ssh", "id_ed25519")
	}
	return filepath.Join(home, ".ssh", "id_ed25519")
}

// ReadUntilTerminator collects lines from r until the terminator line.
// Returns an error when the stream ends without one, so a truncated
// paste is never silently installed.
func ReadUntilTerminator(r io.Reader) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == Terminator {
			return b.String(), nil
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read key material: %w", err)
	}
	return "", fmt.Errorf("key paste ended without %q terminator", Terminator)
}

// Validate parses the key material. encrypted reports whether the key
// needs a passphrase; any other parse failure is an error.
func Validate(material string) (encrypted bool, err error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return false, errors.New("key material is empty")
	}
	if _, err := ssh.ParseRawPrivateKey([]byte(material)); err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return true, nil
		}
		return false, fmt.Errorf("invalid private key: %w", err)
	}
	return false, nil
}

// Install writes key material to path with 0600 permissions, creating
// the .ssh directory as needed. Refuses to overwrite an existing key.
func Install(path, material string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key already exists at %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create ssh directory: %w", err)
	}
	material = strings.TrimSpace(material) + "\n"
	if err := os.WriteFile(path, []byte(material), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// StripPassphrase rewrites the key at path without a passphrase using
// ssh-keygen's in-place format rewrite.
func StripPassphrase(ctx context.Context, r system.Runner, path, passphrase string) error {
	if err := r.Run(ctx, "ssh-keygen", "-p", "-f", path, "-P", passphrase, "-N", ""); err != nil {
		return fmt.Errorf("strip key passphrase: %w", err)
	}
	return nil
}
