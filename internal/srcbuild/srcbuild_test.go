package srcbuild

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"townboot/internal/system"
)

func TestEnsureSkipsPresentBinary(t *testing.T) {
	r := system.NewFake()
	r.Binaries["gt"] = "/home/dev/.local/bin/gt"

	b := &Builder{Runner: r, Workspace: t.TempDir(), BinDir: t.TempDir()}
	built, err := b.Ensure(context.Background(), Tool{Name: "gt", Repo: "https://example.com/gastown", Package: "./cmd/gt"})
	if err != nil {
		t.Fatal(err)
	}
	if built || len(r.Calls) != 0 {
		t.Error("present binary must be a no-op")
	}
}

func TestEnsureClonesAndBuilds(t *testing.T) {
	r := system.NewFake()
	ws, bin := t.TempDir(), t.TempDir()

	b := &Builder{Runner: r, Workspace: ws, BinDir: bin}
	built, err := b.Ensure(context.Background(), Tool{Name: "gt", Repo: "https://example.com/gastown.git", Package: "./cmd/gt"})
	if err != nil {
		t.Fatal(err)
	}
	if !built {
		t.Error("expected build")
	}
	srcDir := filepath.Join(ws, "gastown")
	if !r.Called("git clone https://example.com/gastown.git " + srcDir) {
		t.Errorf("calls = %v", r.Calls)
	}
	if !r.Called("go -C " + srcDir + " build -o " + filepath.Join(bin, "gt") + " ./cmd/gt") {
		t.Errorf("calls = %v", r.Calls)
	}
}

func TestEnsureRefreshesExistingClone(t *testing.T) {
	r := system.NewFake()
	ws := t.TempDir()
	srcDir := filepath.Join(ws, "beads")
	if err := os.MkdirAll(filepath.Join(srcDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	b := &Builder{Runner: r, Workspace: ws, BinDir: t.TempDir()}
	if _, err := b.Ensure(context.Background(), Tool{Name: "bd", Repo: "https://example.com/beads", Package: "./cmd/bd"}); err != nil {
		t.Fatal(err)
	}
	if r.Called("git clone") {
		t.Error("existing clone must not be re-cloned")
	}
	if !r.Called("git -C " + srcDir + " pull --ff-only") {
		t.Errorf("calls = %v", r.Calls)
	}
}

func TestApplyPatchRewrites(t *testing.T) {
	srcDir := t.TempDir()
	target := filepath.Join(srcDir, "types.go")
	body := "type Bead struct {\n\tKind string `json:\"issue_type\"`\n}\n"
	if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	p := Patch{File: "types.go", Old: "`json:\"issue_type\"`", New: "`json:\"type\"`"}
	if err := ApplyPatch(srcDir, p); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	raw, _ := os.ReadFile(target)
	if !strings.Contains(string(raw), "`json:\"type\"`") || strings.Contains(string(raw), "issue_type") {
		t.Errorf("patched = %q", raw)
	}

	// Rerun on an already-patched file converges.
	if err := ApplyPatch(srcDir, p); err != nil {
		t.Fatalf("rerun: %v", err)
	}
}

func TestApplyPatchFailsLoudlyOnMissingTarget(t *testing.T) {
	srcDir := t.TempDir()
	target := filepath.Join(srcDir, "types.go")
	if err := os.WriteFile(target, []byte("type Bead struct{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := Patch{File: "types.go", Old: "`json:\"issue_type\"`", New: "`json:\"type\"`"}
	err := ApplyPatch(srcDir, p)
	if err == nil {
		t.Fatal("missing target string must fail the patch")
	}
	if !strings.Contains(err.Error(), "refusing to build unpatched") {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureAbortsBuildWhenPatchFails(t *testing.T) {
	r := system.NewFake()
	ws := t.TempDir()
	srcDir := filepath.Join(ws, "beads")
	if err := os.MkdirAll(filepath.Join(srcDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "types.go"), []byte("nothing to see\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := &Builder{Runner: r, Workspace: ws, BinDir: t.TempDir()}
	_, err := b.Ensure(context.Background(), Tool{
		Name:    "bd",
		Repo:    "https://example.com/beads",
		Package: "./cmd/bd",
		Patch:   &Patch{File: "types.go", Old: "`json:\"issue_type\"`", New: "`json:\"type\"`"},
	})
	if err == nil {
		t.Fatal("patch failure must abort the build")
	}
	if r.Called("go -C") {
		t.Error("build ran despite failed patch")
	}
}

func TestRepoBase(t *testing.T) {
	cases := map[string]string{
		"https://github.com/steveyegge/gastown":   "gastown",
		"https://github.com/steveyegge/beads.git": "beads",
		"https://github.com/steveyegge/gastown/":  "gastown",
		"git@github.com:steveyegge/beads.git":     "beads",
	}
	for repo, want := range cases {
		if got := repoBase(repo); got != want {
			t.Errorf("repoBase(%q) = %q, want %q", repo, got, want)
		}
	}
}
