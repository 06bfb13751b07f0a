package plans

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"golang.org/x/crypto/ssh"

	"townboot/cmd/townboot/ui"
	"townboot/internal/clock"
	"townboot/internal/config"
	"townboot/internal/fetch"
	"townboot/internal/orchestrate"
	"townboot/internal/services"
	"townboot/internal/system"
)

// Throwaway ed25519 key generated for tests only.
const testAuthorizedKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGJqWOTNXpXUmK1IfVs2r6jF0Cu9814cTCBfIOzFAjPT dev@box1"

func testEnv(t *testing.T) (*Env, *system.Fake) {
	t.Helper()
	for _, v := range []string{
		"TOWNBOOT_CONFIG", "TOWNBOOT_HOSTNAME", "TOWNBOOT_USERNAME",
		"TOWNBOOT_AUTHORIZED_KEY", "TOWNBOOT_PRIVATE_KEY_FILE", "TOWNBOOT_KEY_PASSPHRASE",
	} {
		t.Setenv(v, "")
	}
	ui.ConfigureInteraction(true)
	cfg, err := config.Load(t.TempDir() + "/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.TownRoot = t.TempDir() + "/gt"

	r := system.NewFake()
	checker := clock.NewChecker()
	checker.Query = func(string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: 10 * time.Millisecond}, nil
	}
	return &Env{Config: cfg, Runner: r, Fetch: fetch.New(), Clock: checker}, r
}

func stepIDs(plan orchestrate.Plan) []string {
	ids := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestRootPlanShape(t *testing.T) {
	env, _ := testEnv(t)
	plan := Root(env)

	want := []string{
		"hostname", "sudo", "user", "authorized-key", "ssh-perms",
		"sudoers", "curl", "vpn-install", "vpn-up",
	}
	got := stepIDs(plan)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("root plan = %v, want %v", got, want)
	}

	for _, s := range plan.Steps {
		if s.Policy != orchestrate.PolicyFatal {
			t.Errorf("step %s policy = %q, root steps are all fatal", s.ID, s.Policy)
		}
		if s.Run == nil {
			t.Errorf("step %s has no run function", s.ID)
		}
	}
}

func TestUserPlanShape(t *testing.T) {
	env, _ := testEnv(t)
	plan := User(env)

	want := []string{
		"clock", "ssh-key", "packages", "toolchain", "profile-path",
		"agent-cli", "agent-login", "gh-cli", "gh-auth", "identity",
		"git-integration", "dolt", "gt-build", "bd-build",
		"town-install", "town-enable", "town-repo-init", "town-prime",
		"town-up", "services", "verify",
	}
	got := stepIDs(plan)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("user plan = %v, want %v", got, want)
	}

	warned := map[string]bool{
		"clock": true, "agent-login": true, "identity": true,
		"town-enable": true, "town-repo-init": true, "town-prime": true,
		"town-up": true, "verify": true,
	}
	for _, s := range plan.Steps {
		wantPolicy := orchestrate.PolicyFatal
		if warned[s.ID] {
			wantPolicy = orchestrate.PolicyWarn
		}
		if s.Policy != wantPolicy {
			t.Errorf("step %s policy = %q, want %q", s.ID, s.Policy, wantPolicy)
		}
	}
}

func TestClockStepWarnsOnSkew(t *testing.T) {
	env, _ := testEnv(t)
	env.Clock.Query = func(string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: -10 * time.Second}, nil
	}

	step := User(env).Steps[0]
	if step.ID != "clock" {
		t.Fatalf("first step = %s", step.ID)
	}
	if err := step.Run(context.Background()); err == nil {
		t.Error("10s skew must error so the warn policy records it")
	}
}

func TestSkipStepsOnConvergedHost(t *testing.T) {
	env, r := testEnv(t)
	r.Binaries["gt"] = "/home/dev/.local/bin/gt"
	r.Binaries["bd"] = "/home/dev/.local/bin/bd"
	r.Binaries["dolt"] = "/usr/local/bin/dolt"
	r.Binaries["claude"] = "/home/dev/.local/bin/claude"
	r.Binaries["gh"] = "/usr/bin/gh"

	plan := User(env)
	byID := map[string]orchestrate.Step{}
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	for _, id := range []string{"agent-cli", "gh-cli", "dolt", "gt-build", "bd-build"} {
		err := byID[id].Run(context.Background())
		if _, skipped := orchestrate.SkipReason(err); !skipped {
			t.Errorf("step %s on converged host: err = %v, want skip", id, err)
		}
	}
	if len(r.Calls) != 0 {
		t.Errorf("converged steps ran commands: %v", r.Calls)
	}
}

func userStep(t *testing.T, env *Env, id string) orchestrate.Step {
	t.Helper()
	for _, s := range User(env).Steps {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("no step %q in user plan", id)
	return orchestrate.Step{}
}

func encryptedKeyFile(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("sekrit"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSSHKeyStepFailsFastForEncryptedKeyWithoutTerminal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	env, _ := testEnv(t)
	env.Config.PrivateKeyFile = encryptedKeyFile(t)
	env.Config.KeyPassphrase = ""

	err := userStep(t, env, "ssh-key").Run(context.Background())
	if _, skipped := orchestrate.SkipReason(err); skipped || err == nil {
		t.Fatalf("encrypted key without passphrase: err = %v, want failure", err)
	}
	var noTerm *ui.ErrNoInteraction
	if !errors.As(err, &noTerm) {
		t.Errorf("err = %v, want no-interaction so the run fails instead of hanging", err)
	}
}

func TestLoginStepsFailFastWithoutTerminal(t *testing.T) {
	env, r := testEnv(t)
	r.Errors["gh auth status"] = errors.New("not logged in")

	if err := userStep(t, env, "agent-login").Run(context.Background()); err == nil {
		t.Error("agent-login without terminal must error")
	}
	if err := userStep(t, env, "gh-auth").Run(context.Background()); err == nil {
		t.Error("gh-auth without terminal must error")
	}
	if r.Called("claude /login") || r.Called("gh auth login") {
		t.Errorf("interactive logins launched without a terminal: %v", r.Calls)
	}
}

func TestToolchainSkipsExistingInstallDir(t *testing.T) {
	env, r := testEnv(t)
	env.Config.GoInstall = t.TempDir()
	binDir := filepath.Join(env.Config.GoInstall, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "go"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := userStep(t, env, "toolchain").Run(context.Background())
	if _, skipped := orchestrate.SkipReason(err); !skipped {
		t.Errorf("existing install: err = %v, want skip", err)
	}
	if len(r.Calls) != 0 {
		t.Errorf("skip ran commands: %v", r.Calls)
	}
}

func TestToolchainRefusesBrokenInstallDirWithoutTerminal(t *testing.T) {
	env, _ := testEnv(t)
	env.Config.GoInstall = t.TempDir() // exists, no bin/go

	err := userStep(t, env, "toolchain").Run(context.Background())
	if _, skipped := orchestrate.SkipReason(err); skipped || err == nil {
		t.Fatalf("broken install dir: err = %v, want failure", err)
	}
	var noTerm *ui.ErrNoInteraction
	if !errors.As(err, &noTerm) {
		t.Errorf("err = %v, want no-interaction from the replace confirmation", err)
	}
}

func TestResolveRootInputsPersistsPromptedValues(t *testing.T) {
	env, _ := testEnv(t)
	env.Config.Username = "dev"
	env.Config.AuthorizedKey = testAuthorizedKey

	orig := promptRequired
	promptRequired = func(ctx context.Context, label, placeholder, hint string) (string, error) {
		return "box1", nil
	}
	t.Cleanup(func() { promptRequired = orig })

	if err := ResolveRootInputs(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if env.Config.Hostname != "box1" {
		t.Errorf("hostname = %q", env.Config.Hostname)
	}

	saved, err := config.Load(env.Config.Path())
	if err != nil {
		t.Fatal(err)
	}
	if saved.Hostname != "box1" || saved.Username != "dev" {
		t.Errorf("persisted config = %q/%q, rerun would prompt again", saved.Hostname, saved.Username)
	}
}

func TestResolveRootInputsNoRewriteWhenComplete(t *testing.T) {
	env, _ := testEnv(t)
	env.Config.Hostname = "box1"
	env.Config.Username = "dev"
	env.Config.AuthorizedKey = testAuthorizedKey

	orig := promptRequired
	promptRequired = func(ctx context.Context, label, placeholder, hint string) (string, error) {
		t.Errorf("prompted for %s despite complete config", label)
		return "", errors.New("prompted")
	}
	t.Cleanup(func() { promptRequired = orig })

	if err := ResolveRootInputs(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(env.Config.Path()); !os.IsNotExist(err) {
		t.Errorf("config rewritten without prompting: stat err = %v", err)
	}
}

func TestDoctorProbes(t *testing.T) {
	env, r := testEnv(t)
	r.Binaries["go"] = "/usr/local/go/bin/go"
	r.Outputs["dpkg -s git"] = "Status: install ok installed"
	r.Errors["systemctl --user is-enabled --quiet "+services.DashboardUnit] = errors.New("disabled")

	probes := Doctor(context.Background(), env)

	byName := map[string]Probe{}
	for _, p := range probes {
		byName[p.Name] = p
	}

	if p := byName["go"]; !p.OK {
		t.Errorf("go probe = %+v", p)
	}
	if p := byName["gt"]; p.OK {
		t.Errorf("gt probe should fail without binary: %+v", p)
	}
	if p := byName["packages"]; p.OK {
		t.Errorf("packages probe should report missing set: %+v", p)
	}
	if p, ok := byName["clock"]; !ok || !p.OK {
		t.Errorf("clock probe = %+v", p)
	}
	if p := byName["town"]; p.OK {
		t.Errorf("town probe should fail without workspace: %+v", p)
	}
	if p := byName[services.DashboardUnit]; p.OK || p.Detail != "active but not enabled" {
		t.Errorf("dashboard probe = %+v, disabled unit must be flagged", p)
	}
	if p := byName[services.DaemonUnit]; !p.OK {
		t.Errorf("daemon probe = %+v", p)
	}
}
