// Package config provides configuration loading and validation for the
// conductor. Settings live in a YAML file; credentials come from the
// environment and are never written to disk.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"conductor/pkg/autonomy"
)

// Duration decodes YAML strings like "90s" or "5m".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Store backends for session snapshots.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the top-level configuration document.
type Config struct {
	// AutonomyMode is the initial supervision mode (1-5).
	AutonomyMode int `yaml:"autonomy_mode"`

	Agents AgentConfig  `yaml:"agents"`
	State  StateConfig  `yaml:"state"`
	Commit CommitConfig `yaml:"commit"`
}

// AgentConfig controls how phase agents are invoked.
type AgentConfig struct {
	// Provider is the default backend: "anthropic", "openai", or "ollama".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// RoleModels overrides the model per role, e.g. coder: gpt-5.
	RoleModels map[string]string `yaml:"role_models"`

	Timeout     Duration `yaml:"timeout"`
	TokenBudget int      `yaml:"token_budget"`

	// OllamaHost is only consulted when Provider is "ollama".
	OllamaHost string `yaml:"ollama_host"`
}

// StateConfig selects where session snapshots are persisted.
type StateConfig struct {
	Backend string `yaml:"backend"`
	// Path is the snapshot file (file backend) or database file (sqlite).
	Path string `yaml:"path"`
}

// CommitConfig controls where approved artifacts are written.
type CommitConfig struct {
	// Backend is "local" or "github".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		AutonomyMode: int(autonomy.ModeStrict),
		Agents: AgentConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			Timeout:     Duration(5 * time.Minute),
			TokenBudget: 100000,
			OllamaHost:  "http://localhost:11434",
		},
		State: StateConfig{
			Backend: StoreFile,
			Path:    ".conductor/session.json",
		},
		Commit: CommitConfig{
			Backend: "local",
			Dir:     ".conductor/artifacts",
			Branch:  "main",
		},
	}
}

// Load reads path, applies defaults for unset fields, and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if !autonomy.Mode(c.AutonomyMode).Valid() {
		return fmt.Errorf("autonomy_mode must be between 1 and 5, got %d", c.AutonomyMode)
	}
	switch c.Agents.Provider {
	case "anthropic", "openai", "ollama", "mock":
	default:
		return fmt.Errorf("unknown agent provider %q", c.Agents.Provider)
	}
	if c.Agents.Timeout <= 0 {
		return fmt.Errorf("agent timeout must be positive, got %s", c.Agents.Timeout)
	}
	if c.Agents.TokenBudget <= 0 {
		return fmt.Errorf("token budget must be positive, got %d", c.Agents.TokenBudget)
	}
	switch c.State.Backend {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.State.Path == "" {
			return fmt.Errorf("state backend %q requires a path", c.State.Backend)
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	switch c.Commit.Backend {
	case "local":
		if c.Commit.Dir == "" {
			return fmt.Errorf("local commit backend requires a dir")
		}
	case "github":
		if c.Commit.Owner == "" || c.Commit.Repo == "" {
			return fmt.Errorf("github commit backend requires owner and repo")
		}
	default:
		return fmt.Errorf("unknown commit backend %q", c.Commit.Backend)
	}
	return nil
}

// APIKey resolves the credential for the configured provider from the
// environment. Ollama needs none.
func (c *Config) APIKey() (string, error) {
	var envVar string
	switch c.Agents.Provider {
	case "anthropic":
		envVar = "ANTHROPIC_API_KEY"
	case "openai":
		envVar = "OPENAI_API_KEY"
	default:
		return "", nil
	}
	key := strings.TrimSpace(os.Getenv(envVar))
	if key == "" {
		return "", fmt.Errorf("%s is not set but provider %q requires it", envVar, c.Agents.Provider)
	}
	return key, nil
}

// GitHubToken resolves the commit credential when the github backend is
// selected.
func (c *Config) GitHubToken() (string, error) {
	if c.Commit.Backend != "github" {
		return "", nil
	}
	token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	if token == "" {
		return "", fmt.Errorf("GITHUB_TOKEN is not set but commit backend is github")
	}
	return token, nil
}
