// Package profile manages the single townboot-owned PATH line in the
// user's shell profile. The rewrite is followed by a readback check
// guaranteeing exactly one managed line remains, whatever earlier runs
// or older tooling left behind.
package profile

import (
	"fmt"
	"os"
	"strings"
)

// Marker tags the managed line so it can be found and replaced.
const Marker = "# townboot-managed"

// PathLine renders the canonical export for the given bin directories.
func PathLine(dirs ...string) string {
	return fmt.Sprintf("export PATH=%s:$PATH  %s", strings.Join(dirs, ":"), Marker)
}

// managed reports whether a profile line belongs to us: either tagged
// with the marker or an untagged leftover exporting /usr/local/go/bin.
func managed(line string) bool {
	if strings.Contains(line, Marker) {
		return true
	}
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "export PATH=") && strings.Contains(trimmed, "/usr/local/go/bin")
}

// EnsurePathLine rewrites path (the profile file) so it contains the
// canonical line exactly once, dropping every previously managed line.
// Returns whether the file changed.
func EnsurePathLine(path, canonical string) (changed bool, err error) {
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read profile: %w", err)
	}

	var kept []string
	for _, line := range strings.Split(string(raw), "\n") {
		if managed(line) {
			continue
		}
		kept = append(kept, line)
	}
	// Drop a trailing blank so appends don't accumulate empty lines.
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	kept = append(kept, canonical)

	next := strings.Join(kept, "\n") + "\n"
	if next == string(raw) {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		return false, fmt.Errorf("write profile: %w", err)
	}

	// Readback: the invariant is exactly one managed line.
	raw, err = os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("readback profile: %w", err)
	}
	count := 0
	for _, line := range strings.Split(string(raw), "\n") {
		if managed(line) {
			count++
		}
	}
	if count != 1 {
		return false, fmt.Errorf("profile contains %d managed PATH lines after rewrite, want 1", count)
	}
	return true, nil
}

// ExportCurrent prepends dirs to this process's PATH so later steps see
// the new tools without a fresh shell.
func ExportCurrent(dirs ...string) error {
	current := os.Getenv("PATH")
	next := strings.Join(dirs, ":")
	if current != "" {
		next += ":" + current
	}
	if err := os.Setenv("PATH", next); err != nil {
		return fmt.Errorf("set PATH: %w", err)
	}
	return nil
}
