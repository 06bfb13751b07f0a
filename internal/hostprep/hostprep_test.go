package hostprep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"townboot/internal/system"
)

// Throwaway ed25519 key generated for tests only.
const testPubKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGJqWOTNXpXUmK1IfVs2r6jF0Cu9814cTCBfIOzFAjPT dev@box1"

func TestSetHostnameUsesHostnamectl(t *testing.T) {
	r := system.NewFake()
	r.Binaries["hostnamectl"] = "/usr/bin/hostnamectl"

	if err := SetHostname(context.Background(), r, "box1"); err != nil {
		t.Fatalf("SetHostname: %v", err)
	}
	if !r.Called("hostnamectl set-hostname box1") {
		t.Errorf("calls = %v", r.Calls)
	}
}

func TestSetHostnameRejectsEmpty(t *testing.T) {
	if err := SetHostname(context.Background(), system.NewFake(), "  "); err == nil {
		t.Fatal("expected error for empty hostname")
	}
}

func TestEnsureUserSkipsExisting(t *testing.T) {
	r := system.NewFake()
	r.Outputs["id -u dev"] = "1000"

	created, err := EnsureUser(context.Background(), r, "dev")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if created {
		t.Error("existing user must not be re-created")
	}
	if r.Called("useradd") {
		t.Error("useradd must not run for an existing account")
	}
}

func TestEnsureUserCreatesWithDisabledPassword(t *testing.T) {
	r := system.NewFake()
	r.Errors["id -u dev"] = errors.New("no such user")

	created, err := EnsureUser(context.Background(), r, "dev")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if !created {
		t.Error("expected creation")
	}
	if !r.Called("useradd -m -s /bin/bash dev") {
		t.Errorf("calls = %v", r.Calls)
	}
	if !r.Called("passwd -d dev") {
		t.Error("password was not cleared")
	}
}

func TestEnsureToolSkipsWhenPresent(t *testing.T) {
	r := system.NewFake()
	r.Binaries["sudo"] = "/usr/bin/sudo"

	installed, err := EnsureTool(context.Background(), r, "sudo", "sudo")
	if err != nil {
		t.Fatal(err)
	}
	if installed || r.Called("apt-get") {
		t.Error("present tool must not trigger apt")
	}
}

func TestEnsureToolInstallsWhenAbsent(t *testing.T) {
	r := system.NewFake()
	installed, err := EnsureTool(context.Background(), r, "curl", "curl")
	if err != nil {
		t.Fatal(err)
	}
	if !installed || !r.Called("apt-get install -y curl") {
		t.Errorf("calls = %v", r.Calls)
	}
}

func TestValidateAuthorizedKey(t *testing.T) {
	if err := ValidateAuthorizedKey(testPubKey); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := ValidateAuthorizedKey("not a key"); err == nil {
		t.Error("garbage accepted as public key")
	}
}

func TestEnsureAuthorizedKeyAppendsOnce(t *testing.T) {
	target := KeyTarget{SSHDir: filepath.Join(t.TempDir(), ".ssh"), UID: -1, GID: -1}

	added, err := EnsureAuthorizedKey(target, testPubKey)
	if err != nil {
		t.Fatalf("EnsureAuthorizedKey: %v", err)
	}
	if !added {
		t.Error("first run must append")
	}

	added, err = EnsureAuthorizedKey(target, testPubKey)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("second run must not append a duplicate")
	}

	raw, err := os.ReadFile(filepath.Join(target.SSHDir, "authorized_keys"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(raw), testPubKey); got != 1 {
		t.Errorf("key appears %d times, want 1", got)
	}
}

func TestNormalizeSSHPerms(t *testing.T) {
	target := KeyTarget{SSHDir: filepath.Join(t.TempDir(), ".ssh"), UID: -1, GID: -1}
	if _, err := EnsureAuthorizedKey(target, testPubKey); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(target.SSHDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := NormalizeSSHPerms(target); err != nil {
		t.Fatalf("NormalizeSSHPerms: %v", err)
	}
	info, err := os.Stat(target.SSHDir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("ssh dir perm = %o", perm)
	}
	info, err = os.Stat(filepath.Join(target.SSHDir, "authorized_keys"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("authorized_keys perm = %o", perm)
	}
}

func TestEnsureSudoersCreatesOnce(t *testing.T) {
	orig := SudoersDir
	SudoersDir = t.TempDir()
	defer func() { SudoersDir = orig }()

	created, err := EnsureSudoers("dev")
	if err != nil {
		t.Fatalf("EnsureSudoers: %v", err)
	}
	if !created {
		t.Error("first run must create the drop-in")
	}

	path := filepath.Join(SudoersDir, "dev")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "dev ALL=(ALL) NOPASSWD: ALL\n" {
		t.Errorf("content = %q", raw)
	}
	info, _ := os.Stat(path)
	if perm := info.Mode().Perm(); perm != 0o440 {
		t.Errorf("perm = %o", perm)
	}

	// Manual edits survive reruns.
	if err := os.Chmod(path, 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("dev ALL=(ALL) ALL\n"), 0o440); err != nil {
		t.Fatal(err)
	}
	created, err = EnsureSudoers("dev")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second run must not overwrite")
	}
	raw, _ = os.ReadFile(path)
	if string(raw) != "dev ALL=(ALL) ALL\n" {
		t.Error("manual edit was clobbered")
	}
}
