// Package config loads townboot's bootstrap inputs. Values come from a
// YAML file with TOWNBOOT_* environment overrides; anything still
// missing is prompted for interactively by the commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfig         = "TOWNBOOT_CONFIG"
	envHostname       = "TOWNBOOT_HOSTNAME"
	envUsername       = "TOWNBOOT_USERNAME"
	envAuthorizedKey  = "TOWNBOOT_AUTHORIZED_KEY"
	envPrivateKeyFile = "TOWNBOOT_PRIVATE_KEY_FILE"
	envKeyPassphrase  = "TOWNBOOT_KEY_PASSPHRASE"
)

// Installer describes a remote install script. When SHA256 is set the
// downloaded script is verified before execution.
type Installer struct {
	URL    string `yaml:"url"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// SourceTool describes a CLI built from a source repository.
type SourceTool struct {
	Repo    string `yaml:"repo"`
	Package string `yaml:"package"`
}

// Patch is a single-string source rewrite applied before building. The
// step fails when Old is absent from File, so an upstream change is
// surfaced instead of silently building an unpatched binary.
type Patch struct {
	File string `yaml:"file"`
	Old  string `yaml:"old"`
	New  string `yaml:"new"`
}

// Config is the full set of bootstrap inputs.
type Config struct {
	// Root-mode inputs.
	Hostname      string `yaml:"hostname,omitempty"`
	Username      string `yaml:"username,omitempty"`
	AuthorizedKey string `yaml:"authorized_key,omitempty"`

	// User-mode inputs.
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
	KeyPassphrase  string `yaml:"-"` // env only, never persisted

	TownRoot  string `yaml:"town_root,omitempty"`
	Workspace string `yaml:"workspace,omitempty"`
	BinDir    string `yaml:"bin_dir,omitempty"`

	Packages []string `yaml:"packages,omitempty"`

	GoDistIndex string `yaml:"go_dist_index,omitempty"`
	GoInstall   string `yaml:"go_install,omitempty"`

	Installers map[string]Installer  `yaml:"installers,omitempty"`
	Tools      map[string]SourceTool `yaml:"tools,omitempty"`
	BeadsPatch *Patch                `yaml:"beads_patch,omitempty"`

	PromptTimeout time.Duration `yaml:"prompt_timeout,omitempty"`

	path string
}

// DefaultPackages is the APT package set a Gas Town host needs.
var DefaultPackages = []string{
	"build-essential", "git", "curl", "tmux", "jq", "sqlite3", "unzip",
}

func DefaultPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv(envConfig)); fromEnv != "" {
		return fromEnv
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return filepath.Join(".config", "townboot", "config.yaml")
		}
		return filepath.Join(home, ".config", "townboot", "config.yaml")
	}
	return filepath.Join(dir, "townboot", "config.yaml")
}

// Load reads the config file (missing files yield defaults), applies
// environment overrides, then fills remaining defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}

	cfg := &Config{path: path}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fine: everything comes from env, flags, or prompts.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envHostname)); v != "" {
		c.Hostname = v
	}
	if v := strings.TrimSpace(os.Getenv(envUsername)); v != "" {
		c.Username = v
	}
	if v := strings.TrimSpace(os.Getenv(envAuthorizedKey)); v != "" {
		c.AuthorizedKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrivateKeyFile)); v != "" {
		c.PrivateKeyFile = v
	}
	if v := os.Getenv(envKeyPassphrase); v != "" {
		c.KeyPassphrase = v
	}
}

func (c *Config) applyDefaults() {
	home, _ := os.UserHomeDir()
	if c.TownRoot == "" {
		c.TownRoot = filepath.Join(home, "gt")
	}
	if c.Workspace == "" {
		c.Workspace = filepath.Join(home, "src")
	}
	if c.BinDir == "" {
		c.BinDir = filepath.Join(home, ".local", "bin")
	}
	if len(c.Packages) == 0 {
		c.Packages = append([]string(nil), DefaultPackages...)
	}
	if c.GoDistIndex == "" {
		c.GoDistIndex = "https://go.dev/dl/?mode=json"
	}
	if c.GoInstall == "" {
		c.GoInstall = "/usr/local/go"
	}
	if c.PromptTimeout <= 0 {
		c.PromptTimeout = 5 * time.Minute
	}

	if c.Installers == nil {
		c.Installers = map[string]Installer{}
	}
	ensureInstaller := func(name, url string) {
		if _, ok := c.Installers[name]; !ok {
			c.Installers[name] = Installer{URL: url}
		}
	}
	ensureInstaller("tailscale", "https://tailscale.com/install.sh")
	ensureInstaller("agent", "https://claude.ai/install.sh")
	ensureInstaller("dolt", "https://github.com/dolthub/dolt/releases/latest/download/install.sh")

	if c.Tools == nil {
		c.Tools = map[string]SourceTool{}
	}
	if _, ok := c.Tools["gt"]; !ok {
		c.Tools["gt"] = SourceTool{
			Repo:    "https://github.com/steveyegge/gastown",
			Package: "./cmd/gt",
		}
	}
	if _, ok := c.Tools["bd"]; !ok {
		c.Tools["bd"] = SourceTool{
			Repo:    "https://github.com/steveyegge/beads",
			Package: "./cmd/bd",
		}
	}

	if c.BeadsPatch == nil {
		// Version-specific compatibility shim observed against current
		// upstream; drop once beads renames the field itself.
		c.BeadsPatch = &Patch{
			File: "internal/types/types.go",
			Old:  "`json:\"issue_type\"`",
			New:  "`json:\"type\"`",
		}
	}
}

// Path returns where the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config back to its path, creating parent directories.
func (c *Config) Save() error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(c.path, raw, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	return nil
}
