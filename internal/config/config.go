// Package config provides configuration types and loading for penates.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// PathList is a colon-separated list of filesystem paths, the same
// convention as $PATH.
type PathList []string

// Decode implements envconfig.Decoder.
func (p *PathList) Decode(value string) error {
	var out PathList
	for _, part := range strings.Split(value, ":") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	*p = out
	return nil
}

// Config is the root configuration struct.
// Top-level groups: Paths, Service, Approvals, Agent, Discord, Bluesky,
// Scheduler.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Service   ServiceConfig   `json:"service"`
	Approvals ApprovalsConfig `json:"approvals"`
	Agent     AgentConfig     `json:"agent"`
	Discord   DiscordConfig   `json:"discord"`
	Bluesky   BlueskyConfig   `json:"bluesky"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir   string `json:"dataDir" envconfig:"DATA_DIR"`
	Vault     string `json:"vault" envconfig:"VAULT"`
	Allowlist string `json:"allowlist" envconfig:"ALLOWLIST"`
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
}

// DBPath is the approval/job database location under DataDir.
func (p PathsConfig) DBPath() string { return filepath.Join(p.DataDir, "penates.db") }

// GraphDBPath is the memory graph database location under DataDir.
func (p PathsConfig) GraphDBPath() string { return filepath.Join(p.DataDir, "graph.db") }

// ServiceConfig configures the approval HTTP service.
type ServiceConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// Addr returns the listen address.
func (s ServiceConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// BaseURL returns the URL clients use to reach the service.
func (s ServiceConfig) BaseURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// ApprovalsConfig groups approval-gate settings.
type ApprovalsConfig struct {
	PollInterval  time.Duration `json:"pollInterval" envconfig:"POLL_INTERVAL"`
	RequireAll    bool          `json:"requireAll" envconfig:"REQUIRE_ALL"`
	AllowedRoots  PathList      `json:"allowedRoots" envconfig:"ALLOWED_ROOTS"`
	CleanupMaxAge time.Duration `json:"cleanupMaxAge" envconfig:"CLEANUP_MAX_AGE"`
}

// AgentConfig configures the conversational backend.
type AgentConfig struct {
	BaseURL            string `json:"baseUrl" envconfig:"BASE_URL"`
	Token              string `json:"token" envconfig:"TOKEN"`
	MaxToolIterations  int    `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
	ContextWindowLimit int    `json:"contextWindowLimit" envconfig:"CONTEXT_WINDOW_LIMIT"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	Token     string `json:"token" envconfig:"TOKEN"`
	ChannelID string `json:"channelId" envconfig:"CHANNEL_ID"`
}

// BlueskyConfig configures the Bluesky/ATProto integration.
type BlueskyConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	Handle   string `json:"handle" envconfig:"HANDLE"`
	Password string `json:"password" envconfig:"PASSWORD"`
	Service  string `json:"service" envconfig:"SERVICE"`
}

// SchedulerConfig configures persistent scheduled jobs and the
// autonomous tick.
type SchedulerConfig struct {
	Enabled       bool          `json:"enabled" envconfig:"ENABLED"`
	PerchInterval time.Duration `json:"perchInterval" envconfig:"PERCH_INTERVAL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".penates")
	return &Config{
		Paths: PathsConfig{
			DataDir:   dataDir,
			Vault:     filepath.Join(home, "vault"),
			Allowlist: filepath.Join(dataDir, "approved_commands.txt"),
			Workspace: home,
		},
		Service: ServiceConfig{
			Host: "127.0.0.1",
			Port: 8377,
		},
		Approvals: ApprovalsConfig{
			PollInterval:  5 * time.Second,
			AllowedRoots:  PathList{home},
			CleanupMaxAge: 7 * 24 * time.Hour,
		},
		Agent: AgentConfig{
			BaseURL:            "http://127.0.0.1:8283",
			MaxToolIterations:  10,
			ContextWindowLimit: 50000,
		},
		Bluesky: BlueskyConfig{
			Service: "https://bsky.social",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			PerchInterval: 30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults overridden by
// environment variables. Env files are loaded first; existing process
// env vars always win.
func Load() (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	groups := []struct {
		prefix string
		target any
	}{
		{"PENATES_PATHS", &cfg.Paths},
		{"PENATES_SERVICE", &cfg.Service},
		{"PENATES_APPROVALS", &cfg.Approvals},
		{"PENATES_AGENT", &cfg.Agent},
		{"PENATES_DISCORD", &cfg.Discord},
		{"PENATES_BLUESKY", &cfg.Bluesky},
		{"PENATES_SCHEDULER", &cfg.Scheduler},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return nil, fmt.Errorf("failed to process %s env vars: %w", g.prefix, err)
		}
	}
	return cfg, nil
}

// loadEnvFiles reads env files without overriding the process env.
// Candidates, in order: an explicit PENATES_ENV_FILE, ./.env, and
// ~/.config/penates/env.
func loadEnvFiles() {
	var candidates []string
	if explicit := strings.TrimSpace(os.Getenv("PENATES_ENV_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, ".env")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "penates", "env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}
