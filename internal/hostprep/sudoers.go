package hostprep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SudoersDir is the drop-in directory; variable for tests.
var SudoersDir = "/etc/sudoers.d"

// EnsureSudoers grants username passwordless, unrestricted sudo via a
// drop-in. The file is created once and never overwritten, so manual
// edits survive reruns.
func EnsureSudoers(username string) (created bool, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, fmt.Errorf("username is empty")
	}

	path := filepath.Join(SudoersDir, username)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat sudoers drop-in: %w", err)
	}

	content := fmt.Sprintf("%s ALL=(ALL) NOPASSWD: ALL\n", username)
	if err := os.WriteFile(path, []byte(content), 0o440); err != nil {
		return false, fmt.Errorf("write sudoers drop-in: %w", err)
	}
	return true, nil
}
