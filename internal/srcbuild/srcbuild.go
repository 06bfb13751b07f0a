// Package srcbuild clones and builds the Gas Town CLIs (gt and bd)
// from source with the installed Go toolchain. The beads build applies
// a field-rename patch first; the patch verifies its target string is
// actually present so an upstream change fails the build step instead
// of producing a silently-unpatched binary.
package srcbuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"townboot/internal/system"
)

// Patch is a single-string source rewrite.
type Patch struct {
	File string
	Old  string
	New  string
}

// Tool describes one CLI built from a source repository.
type Tool struct {
	Name    string // binary name, e.g. "gt"
	Repo    string // clone URL
	Package string // build target within the repo, e.g. "./cmd/gt"
	Patch   *Patch // optional pre-build rewrite
}

// Builder materializes tools into BinDir from clones under Workspace.
type Builder struct {
	Runner    system.Runner
	Workspace string
	BinDir    string
}

// Ensure clones (or refreshes) the tool's repository, applies its
// patch, and builds the binary. Present binaries short-circuit.
func (b *Builder) Ensure(ctx context.Context, tool Tool) (built bool, err error) {
	if _, ok := b.Runner.Look(tool.Name); ok {
		return false, nil
	}

	srcDir := filepath.Join(b.Workspace, repoBase(tool.Repo))
	if err := b.syncRepo(ctx, tool.Repo, srcDir); err != nil {
		return false, err
	}

	if tool.Patch != nil {
		if err := ApplyPatch(srcDir, *tool.Patch); err != nil {
			return false, fmt.Errorf("patch %s: %w", tool.Name, err)
		}
	}

	if err := os.MkdirAll(b.BinDir, 0o755); err != nil {
		return false, fmt.Errorf("create bin directory: %w", err)
	}
	out := filepath.Join(b.BinDir, tool.Name)
	if err := b.Runner.Run(ctx, "go", "-C", srcDir, "build", "-o", out, tool.Package); err != nil {
		return false, fmt.Errorf("build %s: %w", tool.Name, err)
	}
	return true, nil
}

func (b *Builder) syncRepo(ctx context.Context, repo, srcDir string) error {
	if _, err := os.Stat(filepath.Join(srcDir, ".git")); err == nil {
		if err := b.Runner.Run(ctx, "git", "-C", srcDir, "pull", "--ff-only"); err != nil {
			return fmt.Errorf("refresh %s: %w", repo, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(srcDir), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := b.Runner.Run(ctx, "git", "clone", repo, srcDir); err != nil {
		return fmt.Errorf("clone %s: %w", repo, err)
	}
	return nil
}

// ApplyPatch rewrites every occurrence of Old with New in the target
// file. A file already containing New (and no Old) counts as applied,
// so reruns converge. A file containing neither is an error: the
// upstream source moved and the shim no longer matches.
func ApplyPatch(srcDir string, p Patch) error {
	path := filepath.Join(srcDir, p.File)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read patch target: %w", err)
	}
	content := string(raw)

	if !strings.Contains(content, p.Old) {
		if strings.Contains(content, p.New) {
			return nil
		}
		return fmt.Errorf("target string %q not found in %s: upstream source changed, refusing to build unpatched", p.Old, p.File)
	}

	next := strings.ReplaceAll(content, p.Old, p.New)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat patch target: %w", err)
	}
	if err := os.WriteFile(path, []byte(next), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write patch target: %w", err)
	}
	return nil
}

func repoBase(repo string) string {
	base := filepath.Base(strings.TrimSuffix(repo, "/"))
	return strings.TrimSuffix(base, ".git")
}
